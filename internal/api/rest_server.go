package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/voxelstore/internal/auth"
	"github.com/annel0/voxelstore/internal/logging"
	"github.com/annel0/voxelstore/internal/middleware"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world"
	"github.com/annel0/voxelstore/internal/world/block"
	"github.com/annel0/voxelstore/internal/world/block/sign"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer отдаёт состояние мира по HTTP.
// World не потокобезопасен, поэтому все обращения идут через mu.
type RestServer struct {
	router     *gin.Engine
	httpServer *http.Server
	world      *world.World
	mu         sync.RWMutex
	auth       *auth.Authenticator
	port       string
	metrics    *ServerMetrics
	logger     *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port       string                // адрес для запуска сервера
	World      *world.World          // обслуживаемый мир
	Auth       *auth.Authenticator   // nil: изменяющие запросы запрещены
	Logger     *logging.Logger       // nil: компонентный логгер "api"
	Registerer prometheus.Registerer // куда регистрировать HTTP-метрики
	Gatherer   prometheus.Gatherer   // что отдавать на /metrics
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.World == nil {
		return nil, errors.New("api: не задан мир")
	}
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Logger == nil {
		config.Logger = logging.GetComponentLogger("api")
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("voxelstore_api"))
	router.Use(middleware.NewRequestLogger(config.Logger).Handler())

	promMw := middleware.NewPrometheusMiddleware("voxelstore_api", config.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Gatherer)

	rs := &RestServer{
		router:  router,
		world:   config.World,
		auth:    config.Auth,
		port:    config.Port,
		metrics: NewServerMetrics(),
		logger:  config.Logger,
	}
	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/stats", rs.handleStats)
		api.GET("/palette", rs.handlePalette)
		api.GET("/chunks", rs.handleChunks)
		api.GET("/chunks/:cx/:cz", rs.handleChunk)
		api.GET("/blocks/:x/:y/:z", rs.handleGetBlock)
		api.GET("/blocks/:x/:y/:z/sign", rs.handleGetSign)
	}

	write := api.Group("/")
	write.Use(rs.writeMiddleware())
	{
		write.PUT("/blocks/:x/:y/:z", rs.handlePutBlock)
		write.PUT("/blocks/:x/:y/:z/sign", rs.handlePutSign)
		write.POST("/flush", rs.handleFlush)
	}
}

// Handler возвращает http.Handler сервера
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// View выполняет fn под блокировкой чтения мира
func (rs *RestServer) View(fn func(w *world.World) error) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return fn(rs.world)
}

// Update выполняет fn под эксклюзивной блокировкой мира
func (rs *RestServer) Update(fn func(w *world.World) error) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return fn(rs.world)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// BlockResponse описывает один блок
type BlockResponse struct {
	X     int32  `json:"x"`
	Y     int32  `json:"y"`
	Z     int32  `json:"z"`
	State uint16 `json:"state"`
	ID    string `json:"id,omitempty"`
}

// PutBlockRequest задаёт блок по идентификатору или по состоянию.
// Пустой ID и нулевое State означают удаление блока.
type PutBlockRequest struct {
	ID    string  `json:"id"`
	State *uint16 `json:"state"`
}

// SignRequest содержит строки таблички
type SignRequest struct {
	Lines [sign.LineCount]string `json:"lines"`
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"world_id": rs.world.ID(),
		"time":     time.Now().Unix(),
	})
}

// handleStats возвращает размеры хранилища и метрики процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	var st world.Stats
	_ = rs.View(func(w *world.World) error {
		st = w.Stats()
		return nil
	})

	stats := map[string]interface{}{
		"world": map[string]interface{}{
			"id":               rs.world.ID(),
			"chunks":           st.Chunks,
			"overflow_entries": st.OverflowEntries,
			"buffers":          st.Buffers,
			"dirty_columns":    st.DirtyColumns,
			"palette_size":     rs.world.Registry().Len(),
		},
	}

	server := map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"server_time": time.Now().Unix(),
	}
	if cpuPercent, err := rs.metrics.GetCPUUsage(); err == nil {
		server["cpu_percent"] = fmt.Sprintf("%.2f", cpuPercent)
	}
	if rss, err := rs.metrics.GetRSS(); err == nil {
		server["rss_mb"] = fmt.Sprintf("%.2f", rss)
	}
	stats["server"] = server
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// Реестр защищён собственной блокировкой, мир для него не блокируется
func (rs *RestServer) handlePalette(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Палитра получена",
		Data:    rs.world.Registry().Entries(),
	})
}

func (rs *RestServer) handleChunks(c *gin.Context) {
	var cols []vec.Vec2
	_ = rs.View(func(w *world.World) error {
		cols = w.LoadedChunks()
		return nil
	})

	out := make([]gin.H, 0, len(cols))
	for _, col := range cols {
		out = append(out, gin.H{"x": col.X, "z": col.Z})
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Загружено чанков: %d", len(out)),
		Data:    out,
	})
}

// handleChunk возвращает сводку по плотному чанку колонки
func (rs *RestServer) handleChunk(c *gin.Context) {
	cx, errX := parseCoord(c.Param("cx"))
	cz, errZ := parseCoord(c.Param("cz"))
	if errX != nil || errZ != nil {
		abort(c, http.StatusBadRequest, "Неверные координаты чанка")
		return
	}
	col := vec.Vec2{X: cx, Z: cz}

	var (
		found   bool
		nonZero int
		digest  uint64
	)
	_ = rs.View(func(w *world.World) error {
		ch, ok := w.Chunk(col)
		if ok {
			found, nonZero, digest = true, ch.NonZero(), ch.Digest()
		}
		return nil
	})
	if !found {
		abort(c, http.StatusNotFound, "Чанк не загружен")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Чанк найден",
		Data: gin.H{
			"x":        col.X,
			"z":        col.Z,
			"non_zero": nonZero,
			"digest":   strconv.FormatUint(digest, 16),
		},
	})
}

func (rs *RestServer) handleGetBlock(c *gin.Context) {
	pos, ok := blockPosParam(c)
	if !ok {
		return
	}

	var state block.State
	err := rs.View(func(w *world.World) error {
		var err error
		state, err = w.ReadBlockState(pos)
		return err
	})
	if err != nil {
		rs.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Блок получен",
		Data:    rs.blockResponse(pos, state),
	})
}

func (rs *RestServer) handlePutBlock(c *gin.Context) {
	pos, ok := blockPosParam(c)
	if !ok {
		return
	}

	var req PutBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	var state block.State
	switch {
	case req.ID != "" && req.State != nil:
		abort(c, http.StatusBadRequest, "Укажите либо id, либо state")
		return
	case req.ID != "":
		s, found := rs.world.Registry().IDToState(block.ID(req.ID))
		if !found {
			abort(c, http.StatusBadRequest, fmt.Sprintf("Неизвестный блок %q", req.ID))
			return
		}
		state = s
	case req.State != nil:
		state = block.State(*req.State)
	}

	err := rs.Update(func(w *world.World) error {
		return w.WriteBlockState(pos, state)
	})
	if err != nil {
		rs.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Блок записан",
		Data:    rs.blockResponse(pos, state),
	})
}

func (rs *RestServer) handleGetSign(c *gin.Context) {
	pos, ok := blockPosParam(c)
	if !ok {
		return
	}

	var lines [sign.LineCount]string
	err := rs.Update(func(w *world.World) error {
		buf, err := w.BlockBuffer(pos)
		if err != nil {
			return err
		}
		lines, err = sign.NewCursor(buf).ReadLines()
		return err
	})
	if err != nil {
		rs.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Табличка прочитана",
		Data:    SignRequest{Lines: lines},
	})
}

func (rs *RestServer) handlePutSign(c *gin.Context) {
	pos, ok := blockPosParam(c)
	if !ok {
		return
	}

	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Неверный формат запроса")
		return
	}

	err := rs.Update(func(w *world.World) error {
		buf, err := w.BlockBuffer(pos)
		if err != nil {
			return err
		}
		return sign.NewCursor(buf).WriteLines(req.Lines)
	})
	if err != nil {
		rs.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Табличка записана",
	})
}

func (rs *RestServer) handleFlush(c *gin.Context) {
	ctx := c.Request.Context()
	err := rs.Update(func(w *world.World) error {
		return w.FlushContext(ctx)
	})
	if err != nil {
		rs.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Изменения сохранены",
	})
}

// fail переводит доменную ошибку в HTTP-статус
func (rs *RestServer) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sign.ErrInvalidLine), errors.Is(err, block.ErrUnknownID):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, block.ErrContractViolation):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, block.ErrBackend):
		rs.logger.Error("Ошибка хранилища: %v", err)
		abort(c, http.StatusBadGateway, "Ошибка хранилища")
	default:
		rs.logger.Error("Внутренняя ошибка: %v", err)
		abort(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
	}
}

func (rs *RestServer) blockResponse(pos vec.BlockPos, state block.State) BlockResponse {
	x, y, z := pos.Unpack()
	resp := BlockResponse{X: x, Y: y, Z: z, State: uint16(state)}
	if id, ok := rs.world.Registry().StateToID(state); ok {
		resp.ID = string(id)
	}
	return resp
}

func parseCoord(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	return int32(v), err
}

// blockPosParam разбирает :x/:y/:z; при ошибке ответ уже отправлен
func blockPosParam(c *gin.Context) (vec.BlockPos, bool) {
	x, errX := parseCoord(c.Param("x"))
	y, errY := parseCoord(c.Param("y"))
	z, errZ := parseCoord(c.Param("z"))
	if errX != nil || errY != nil || errZ != nil {
		abort(c, http.StatusBadRequest, "Неверные координаты блока")
		return 0, false
	}
	if !vec.InRange(x, y, z) {
		abort(c, http.StatusBadRequest, "Координаты вне допустимого диапазона")
		return 0, false
	}
	return vec.Pack(x, y, z), true
}

// Start запускает HTTP сервер и блокируется до его остановки
func (rs *RestServer) Start() error {
	rs.mu.Lock()
	rs.httpServer = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := rs.httpServer
	rs.mu.Unlock()

	rs.logger.Info("REST API слушает %s", rs.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно останавливает сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.mu.RLock()
	srv := rs.httpServer
	rs.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
