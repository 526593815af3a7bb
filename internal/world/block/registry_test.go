package block

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry(1)

	air, err := reg.Register("minecraft:air", false)
	require.NoError(t, err)
	sign, err := reg.Register("minecraft:sign", true)
	require.NoError(t, err)

	assert.Equal(t, State(1), air, "Первое состояние должно начинаться с base")
	assert.Equal(t, State(2), sign, "Состояния выдаются последовательно")

	for _, id := range []ID{"minecraft:air", "minecraft:sign"} {
		state, ok := reg.IDToState(id)
		require.True(t, ok, "ID %s должен быть зарегистрирован", id)
		back, ok := reg.StateToID(state)
		require.True(t, ok)
		assert.Equal(t, id, back, "StateToID(IDToState(id)) должен возвращать id")
	}

	assert.False(t, reg.NeedsBuffer(air))
	assert.True(t, reg.NeedsBuffer(sign))
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_ZeroBaseIsReserved(t *testing.T) {
	reg := NewRegistry(0)
	state, err := reg.Register("minecraft:stone", false)
	require.NoError(t, err)
	assert.NotEqual(t, AirState, state, "Состояние 0 зарезервировано")
}

func TestRegistry_ReRegisterKeepsStateAndOverwritesFlag(t *testing.T) {
	reg := NewRegistry(1)

	first := reg.MustRegister("minecraft:chest", true)
	assert.True(t, reg.NeedsBuffer(first))

	second, err := reg.Register("minecraft:chest", false)
	require.NoError(t, err)
	assert.Equal(t, first, second, "Повторная регистрация не выделяет новое состояние")
	assert.False(t, reg.NeedsBuffer(second), "Флаг второй регистрации перезаписывает первый")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_UnknownLookups(t *testing.T) {
	reg := NewRegistry(1)

	_, ok := reg.IDToState("minecraft:nothing")
	assert.False(t, ok)
	_, ok = reg.StateToID(42)
	assert.False(t, ok)
	_, ok = reg.StateToID(AirState)
	assert.False(t, ok, "Отсутствие блока не имеет идентификатора")

	buf, ok := reg.BufferTemplate(42)
	assert.False(t, ok)
	assert.Nil(t, buf)
}

func TestRegistry_SetBufferRequirementIsIdempotent(t *testing.T) {
	reg := NewRegistry(1)
	stone := reg.MustRegister("minecraft:stone", false)

	reg.SetBufferRequirement(stone, true)
	reg.SetBufferRequirement(stone, true)
	assert.True(t, reg.NeedsBuffer(stone))

	buf, ok := reg.BufferTemplate(stone)
	require.True(t, ok)
	assert.Equal(t, 0, buf.Len(), "Шаблон буфера должен быть пустым")

	reg.SetBufferRequirement(stone, false)
	reg.SetBufferRequirement(stone, false)
	assert.False(t, reg.NeedsBuffer(stone))
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry(MaxState)

	_, err := reg.Register("", false)
	assert.ErrorIs(t, err, ErrEmptyID)

	last, err := reg.Register("a", false)
	require.NoError(t, err)
	assert.Equal(t, MaxState, last)

	_, err = reg.Register("b", false)
	assert.True(t, errors.Is(err, ErrRegistryFull), "Ожидалась ErrRegistryFull, получено %v", err)

	// Уже зарегистрированный ID по-прежнему доступен
	again, err := reg.Register("a", true)
	require.NoError(t, err)
	assert.Equal(t, last, again)
}

func TestRegistry_PaletteRoundTrip(t *testing.T) {
	reg := NewRegistry(1)
	reg.MustRegister("minecraft:air", false)
	reg.MustRegister("minecraft:stone", false)
	reg.MustRegister("minecraft:sign", true)

	entries := reg.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{ID: "minecraft:sign", State: 3, Buffered: true}, entries[2])

	restored := NewRegistry(1)
	require.NoError(t, restored.LoadPalette(entries))
	assert.Equal(t, entries, restored.Entries())

	mismatch := NewRegistry(10)
	err := mismatch.LoadPalette(entries)
	assert.Error(t, err, "Несовпадающие состояния должны приводить к ошибке")
}

func TestBuffer(t *testing.T) {
	buf := NewBuffer()
	_, _ = buf.Write([]byte("abc"))
	assert.Equal(t, []byte("abc"), buf.Bytes())

	clone := buf.Clone()
	buf.Set([]byte("xy"))
	assert.Equal(t, []byte("xy"), buf.Bytes())
	assert.Equal(t, []byte("abc"), clone.Bytes(), "Клон не должен зависеть от оригинала")

	buf.Reset()
	assert.Equal(t, 0, buf.Len())
}
