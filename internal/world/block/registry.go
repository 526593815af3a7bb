package block

import (
	"fmt"
	"sort"
	"sync"
)

// State представляет компактный числовой дескриптор состояния блока.
// Значения назначаются реестром и действительны только в пределах его жизни.
type State uint16

// ID представляет стабильный строковый идентификатор блока ("minecraft:stone")
type ID string

// Константы состояний
const (
	AirState State = 0 // Отсутствие блока, зарезервировано

	// MaxDenseState задаёт наибольшее состояние, помещающееся в байт плотного массива чанка
	MaxDenseState State = 255
	MaxState      State = 0xFFFF
)

// Entry представляет строку палитры реестра
type Entry struct {
	ID       ID    `yaml:"id" json:"id"`
	State    State `yaml:"state,omitempty" json:"state,omitempty"`
	Buffered bool  `yaml:"buffered,omitempty" json:"buffered,omitempty"`
}

// Registry переводит идентификаторы в состояния и обратно.
// Растёт только добавлением: зарегистрированный ID сохраняет состояние до конца жизни реестра.
type Registry struct {
	mu       sync.RWMutex
	byID     map[ID]State
	byState  map[State]ID
	buffered map[State]struct{}
	base     State
	next     uint32 // uint32, чтобы переполнение за 0xFFFF было видно
}

// NewRegistry создаёт пустой реестр, выдающий состояния начиная с base.
// base == 0 заменяется на 1: ноль зарезервирован за отсутствием блока.
func NewRegistry(base State) *Registry {
	if base == AirState {
		base = 1
	}
	return &Registry{
		byID:     make(map[ID]State),
		byState:  make(map[State]ID),
		buffered: make(map[State]struct{}),
		base:     base,
		next:     uint32(base),
	}
}

// Register регистрирует идентификатор и возвращает его состояние.
// Повторная регистрация не выделяет новое состояние, но перезаписывает флаг буфера.
func (r *Registry) Register(id ID, needsBuffer bool) (State, error) {
	if id == "" {
		return AirState, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.byID[id]
	if !exists {
		if r.next > uint32(MaxState) {
			return AirState, fmt.Errorf("%w: не удалось зарегистрировать %q", ErrRegistryFull, id)
		}
		state = State(r.next)
		r.next++
		r.byID[id] = state
		r.byState[state] = id
	}

	r.setBufferLocked(state, needsBuffer)
	return state, nil
}

// MustRegister регистрирует идентификатор и паникует при ошибке.
// Удобно для статических палитр при инициализации.
func (r *Registry) MustRegister(id ID, needsBuffer bool) State {
	state, err := r.Register(id, needsBuffer)
	if err != nil {
		panic(err)
	}
	return state
}

// SetBufferRequirement устанавливает флаг необходимости буфера для состояния
func (r *Registry) SetBufferRequirement(state State, required bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setBufferLocked(state, required)
}

func (r *Registry) setBufferLocked(state State, required bool) {
	if required {
		r.buffered[state] = struct{}{}
	} else {
		delete(r.buffered, state)
	}
}

// StateToID возвращает идентификатор для состояния
func (r *Registry) StateToID(state State) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byState[state]
	return id, ok
}

// IDToState возвращает состояние для идентификатора
func (r *Registry) IDToState(id ID) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.byID[id]
	return state, ok
}

// NeedsBuffer сообщает, требует ли состояние вспомогательного буфера
func (r *Registry) NeedsBuffer(state State) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.buffered[state]
	return ok
}

// BufferTemplate возвращает новый пустой буфер, если состояние его требует
func (r *Registry) BufferTemplate(state State) (*Buffer, bool) {
	if !r.NeedsBuffer(state) {
		return nil, false
	}
	return NewBuffer(), true
}

// Len возвращает количество зарегистрированных идентификаторов
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Entries возвращает палитру, отсортированную по состоянию
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.byID))
	for id, state := range r.byID {
		_, buffered := r.buffered[state]
		entries = append(entries, Entry{ID: id, State: state, Buffered: buffered})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].State < entries[j].State
	})
	return entries
}

// LoadPalette регистрирует записи палитры в указанном порядке.
// Если в записи задано State, оно должно совпасть с выданным реестром,
// иначе числовые состояния из внешнего хранилища не будут соответствовать идентификаторам.
func (r *Registry) LoadPalette(entries []Entry) error {
	for _, e := range entries {
		state, err := r.Register(e.ID, e.Buffered)
		if err != nil {
			return err
		}
		if e.State != AirState && e.State != state {
			return fmt.Errorf("палитра: %q получил состояние %d, ожидалось %d", e.ID, state, e.State)
		}
	}
	return nil
}

// BlockIDSystem позволяет передавать реестр туда, где нужен IDOperator
func (r *Registry) BlockIDSystem() IDSystem {
	return r
}
