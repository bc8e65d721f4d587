package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var (
	ErrDataForbidden = errors.New("account: forbidden data id")
	ErrDataDuplicate = errors.New("account: data id already registered")
	ErrDataFrozen    = errors.New("account: cannot register account data after accounts have started loading")
	ErrDataColumn    = errors.New("account: invalid data column name")
)

// forbiddenDataIDs collide with the account's own fields or columns.
var forbiddenDataIDs = map[string]struct{}{
	"identifier":  {},
	"quests":      {},
	"pools":       {},
	"id":          {},
	"player_uuid": {},
	"created_at":  {},
}

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type dataKey interface {
	ID() string
	Column() string
	decode(raw string) (any, error)
}

// DataKey is a typed per-account value stored in its own column.
type DataKey[T any] struct {
	id     string
	column string
	def    T
}

func (k *DataKey[T]) ID() string     { return k.id }
func (k *DataKey[T]) Column() string { return k.column }
func (k *DataKey[T]) Default() T     { return k.def }

func (k *DataKey[T]) decode(raw string) (any, error) {
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DataRegistry holds the account data keys. It is frozen once loading starts.
type DataRegistry struct {
	mu     sync.RWMutex
	keys   map[string]dataKey
	order  []dataKey
	frozen bool
}

func NewDataRegistry() *DataRegistry {
	return &DataRegistry{keys: make(map[string]dataKey)}
}

// RegisterData adds a data key. The column defaults to the id.
func RegisterData[T any](r *DataRegistry, id, column string, def T) (*DataKey[T], error) {
	if column == "" {
		column = id
	}
	if _, bad := forbiddenDataIDs[id]; bad {
		return nil, fmt.Errorf("%w: %q", ErrDataForbidden, id)
	}
	if _, bad := forbiddenDataIDs[column]; bad {
		return nil, fmt.Errorf("%w: column %q", ErrDataForbidden, column)
	}
	if !columnPattern.MatchString(column) {
		return nil, fmt.Errorf("%w: %q", ErrDataColumn, column)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, ErrDataFrozen
	}
	if _, dup := r.keys[id]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDataDuplicate, id)
	}
	for _, k := range r.order {
		if k.Column() == column {
			return nil, fmt.Errorf("%w: column %q", ErrDataDuplicate, column)
		}
	}
	key := &DataKey[T]{id: id, column: column, def: def}
	r.keys[id] = key
	r.order = append(r.order, key)
	return key, nil
}

// Freeze rejects further registrations.
func (r *DataRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *DataRegistry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Columns returns the column of every key in registration order.
func (r *DataRegistry) Columns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cols := make([]string, len(r.order))
	for i, k := range r.order {
		cols[i] = k.Column()
	}
	return cols
}

func (r *DataRegistry) byColumn(column string) dataKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, k := range r.order {
		if k.Column() == column {
			return k
		}
	}
	return nil
}

// GetData returns the account's value for key, or the key's default.
func GetData[T any](acc *Account, key *DataKey[T]) T {
	acc.mu.RLock()
	defer acc.mu.RUnlock()
	if v, ok := acc.data[key.id]; ok {
		if tv, ok := v.(T); ok {
			return tv
		}
	}
	return key.def
}

// SetData stores value for key and writes it to the store immediately.
func SetData[T any](acc *Account, key *DataKey[T], value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("account: encode %s: %w", key.id, err)
	}
	acc.mu.Lock()
	acc.data[key.id] = value
	acc.mu.Unlock()

	if acc.cache != nil {
		s := string(raw)
		acc.cache.saveData(acc, key.column, &s)
	}
	return nil
}
