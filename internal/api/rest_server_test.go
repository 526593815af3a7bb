package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annel0/voxelstore/internal/auth"
	"github.com/annel0/voxelstore/internal/logging"
	"github.com/annel0/voxelstore/internal/storage"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world"
	"github.com/annel0/voxelstore/internal/world/block"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *RestServer
	world  *world.World
	store  *storage.MemoryChunkStore
	token  string
	reader string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := block.NewRegistry(1)
	reg.MustRegister("stone", false)
	reg.MustRegister("sign", true)

	store := storage.NewMemoryChunkStore()
	logger := logging.NewWriterLogger("api", &bytes.Buffer{}, logging.ERROR)
	w := world.NewWorld(reg, world.WithStore(store), world.WithID("api-test"), world.WithLogger(logger))

	secret, err := auth.GenerateSecureSecret()
	require.NoError(t, err)
	authenticator, err := auth.NewAuthenticator(secret, "voxelstore")
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	rs, err := NewRestServer(Config{
		World:      w,
		Auth:       authenticator,
		Logger:     logger,
		Registerer: promReg,
		Gatherer:   promReg,
	})
	require.NoError(t, err)

	token, err := authenticator.IssueToken("builder", true, time.Hour)
	require.NoError(t, err)
	reader, err := authenticator.IssueToken("viewer", false, time.Hour)
	require.NoError(t, err)

	return &testEnv{server: rs, world: w, store: store, token: token, reader: reader}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var resp GenericResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestRestServer_RequiresWorld(t *testing.T) {
	_, err := NewRestServer(Config{})
	assert.Error(t, err)
}

func TestRestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api-test")
}

func TestRestServer_BlockRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPut, "/api/blocks/-5/300/17", env.token, PutBlockRequest{ID: "stone"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)

	state, err := env.world.ReadBlockState(vec.Pack(-5, 300, 17))
	require.NoError(t, err)
	assert.Equal(t, block.State(1), state)

	rec, _ = env.do(t, http.MethodGet, "/api/blocks/-5/300/17", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"stone"`)

	raw := uint16(700)
	rec, _ = env.do(t, http.MethodPut, "/api/blocks/1/2/3", env.token, PutBlockRequest{State: &raw})
	require.Equal(t, http.StatusOK, rec.Code)
	state, err = env.world.ReadBlockState(vec.Pack(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, block.State(700), state)
}

func TestRestServer_WriteAuthorization(t *testing.T) {
	env := newTestEnv(t)
	body := PutBlockRequest{ID: "stone"}

	rec, _ := env.do(t, http.MethodPut, "/api/blocks/0/0/0", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "Без токена запись запрещена")

	rec, _ = env.do(t, http.MethodPut, "/api/blocks/0/0/0", "garbage", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "Мусорный токен отклоняется")

	rec, _ = env.do(t, http.MethodPut, "/api/blocks/0/0/0", env.reader, body)
	assert.Equal(t, http.StatusForbidden, rec.Code, "Токен без права записи")

	contains, err := env.world.ContainsBlock(vec.Pack(0, 0, 0))
	require.NoError(t, err)
	assert.False(t, contains)
}

func TestRestServer_WritesDisabledWithoutAuth(t *testing.T) {
	reg := block.NewRegistry(1)
	reg.MustRegister("stone", false)
	logger := logging.NewWriterLogger("api", &bytes.Buffer{}, logging.ERROR)
	rs, err := NewRestServer(Config{
		World:      world.NewWorld(reg, world.WithLogger(logger)),
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/flush", nil)
	rec := httptest.NewRecorder()
	rs.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRestServer_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/blocks/a/0/0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/blocks/0/5000/0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "y вне 12-битного поля")

	rec, _ = env.do(t, http.MethodPut, "/api/blocks/0/0/0", env.token, PutBlockRequest{ID: "unknown"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/chunks/9/9", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRestServer_SignAndFlush(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/blocks/8/70/8/sign", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "Буфера без таблички нет")

	rec, _ = env.do(t, http.MethodPut, "/api/blocks/8/70/8", env.token, PutBlockRequest{ID: "sign"})
	require.Equal(t, http.StatusOK, rec.Code)

	lines := SignRequest{Lines: [4]string{"Привет", "мир", "", "!"}}
	rec, _ = env.do(t, http.MethodPut, "/api/blocks/8/70/8/sign", env.token, lines)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bad := SignRequest{Lines: [4]string{"a\nb", "", "", ""}}
	rec, _ = env.do(t, http.MethodPut, "/api/blocks/8/70/8/sign", env.token, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/blocks/8/70/8/sign", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Привет")

	rec, _ = env.do(t, http.MethodPost, "/api/flush", env.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.store.Len())
	assert.Equal(t, 0, env.world.Stats().DirtyColumns)
}

func TestRestServer_Inspection(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.world.WriteBlockState(vec.Pack(-1, 10, -1), 1))

	rec, _ := env.do(t, http.MethodGet, "/api/chunks", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"x":-1`)

	rec, _ = env.do(t, http.MethodGet, "/api/chunks/-1/-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"non_zero":1`)

	rec, _ = env.do(t, http.MethodGet, "/api/palette", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sign"`)

	rec, _ = env.do(t, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chunks":1`)

	rec, _ = env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voxelstore_api_http_request_duration_seconds")
}
