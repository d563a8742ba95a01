package pv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Type is the value type of a record.
type Type string

// Supported record types.
const (
	TypeDouble Type = "double"
	TypeInt    Type = "int"
	TypeString Type = "string"
)

// DefaultMaxLength bounds string records that do not set MaxLength.
const DefaultMaxLength = 255

var (
	ErrNotFound     = errors.New("pv: record not found")
	ErrExists       = errors.New("pv: record already exists")
	ErrReadOnly     = errors.New("pv: record is read-only")
	ErrInvalidValue = errors.New("pv: invalid value")
)

// PutHook runs when a client writes a record, before the value is committed.
// value has already been coerced to the record type. Returning an error
// rejects the write; returning nil commits it.
type PutHook func(ctx context.Context, value any) error

// Spec declares one record.
type Spec struct {
	Name string
	Type Type
	Doc  string

	// Initial is coerced to Type; nil means the type's zero value.
	Initial any

	// MaxLength bounds string values in bytes. Zero means DefaultMaxLength.
	MaxLength int

	// ReadOnly records reject Put but accept Write.
	ReadOnly bool

	OnPut PutHook
}

// Record is the current state of one process variable.
type Record struct {
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	Doc       string    `json:"doc,omitempty"`
	Value     any       `json:"value"`
	ReadOnly  bool      `json:"read_only"`
	UpdatedAt time.Time `json:"updated_at"`
	Seq       uint64    `json:"seq"`
}

// Float returns the record value as float64 for numeric records.
func (r Record) Float() (float64, bool) {
	switch v := r.Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

type entry struct {
	spec Spec
	rec  Record
}

// DB is a thread-safe set of records.
type DB struct {
	mu      sync.RWMutex
	records map[string]*entry
	seq     uint64
	subs    map[chan Record]struct{}
	now     func() time.Time // injectable for deterministic tests
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		records: make(map[string]*entry),
		subs:    make(map[chan Record]struct{}),
		now:     time.Now,
	}
}

// Add declares a record. Names must be unique.
func (db *DB) Add(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("pv: record name is required")
	}
	switch spec.Type {
	case TypeDouble, TypeInt, TypeString:
	default:
		return fmt.Errorf("pv: record %q: unknown type %q", spec.Name, spec.Type)
	}
	if spec.MaxLength <= 0 {
		spec.MaxLength = DefaultMaxLength
	}
	v, err := coerce(spec, spec.Initial)
	if err != nil {
		return fmt.Errorf("pv: record %q initial value: %w", spec.Name, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.records[spec.Name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, spec.Name)
	}
	db.seq++
	db.records[spec.Name] = &entry{
		spec: spec,
		rec: Record{
			Name:      spec.Name,
			Type:      spec.Type,
			Doc:       spec.Doc,
			Value:     v,
			ReadOnly:  spec.ReadOnly,
			UpdatedAt: db.now(),
			Seq:       db.seq,
		},
	}
	return nil
}

// Get returns the record called name.
func (db *DB) Get(name string) (Record, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.records[name]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// Float returns the numeric value of name, or 0 if the record is missing or
// not numeric.
func (db *DB) Float(name string) float64 {
	r, _ := db.Get(name)
	f, _ := r.Float()
	return f
}

// Int returns the integer value of name, or 0 if the record is missing or
// not an int record.
func (db *DB) Int(name string) int {
	r, _ := db.Get(name)
	v, _ := r.Value.(int64)
	return int(v)
}

// List returns every record sorted by name.
func (db *DB) List() []Record {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]Record, 0, len(db.records))
	for _, e := range db.records {
		out = append(out, e.rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of declared records.
func (db *DB) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.records)
}

// Subscribers returns the number of open subscriptions.
func (db *DB) Subscribers() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.subs)
}

// Put is a client write. The value is coerced, read-only records are
// rejected, and the put hook runs before the value is committed. The hook is
// called without any DB lock held, so it may read and Write other records.
func (db *DB) Put(ctx context.Context, name string, value any) (Record, error) {
	db.mu.RLock()
	e, ok := db.records[name]
	db.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if e.spec.ReadOnly {
		return Record{}, fmt.Errorf("%w: %q", ErrReadOnly, name)
	}
	v, err := coerce(e.spec, value)
	if err != nil {
		return Record{}, fmt.Errorf("pv: put %q: %w", name, err)
	}
	if e.spec.OnPut != nil {
		if err := e.spec.OnPut(ctx, v); err != nil {
			return Record{}, fmt.Errorf("pv: put %q: %w", name, err)
		}
	}
	return db.commit(name, v), nil
}

// Write publishes value to name, bypassing the read-only flag and put hook.
func (db *DB) Write(name string, value any) (Record, error) {
	db.mu.RLock()
	e, ok := db.records[name]
	db.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	v, err := coerce(e.spec, value)
	if err != nil {
		return Record{}, fmt.Errorf("pv: write %q: %w", name, err)
	}
	return db.commit(name, v), nil
}

func (db *DB) commit(name string, v any) Record {
	db.mu.Lock()
	defer db.mu.Unlock()
	e := db.records[name]
	db.seq++
	e.rec.Value = v
	e.rec.UpdatedAt = db.now()
	e.rec.Seq = db.seq
	rec := e.rec
	for ch := range db.subs {
		select {
		case ch <- rec:
		default:
			// Slow subscriber: drop rather than block the writer.
		}
	}
	return rec
}

// Subscribe returns a channel that receives every committed record and a
// cancel func that closes it. At most buf records queue per subscriber;
// further records are dropped until the subscriber catches up.
func (db *DB) Subscribe(buf int) (<-chan Record, func()) {
	ch := make(chan Record, buf)
	db.mu.Lock()
	db.subs[ch] = struct{}{}
	db.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			db.mu.Lock()
			delete(db.subs, ch)
			close(ch)
			db.mu.Unlock()
		})
	}
}

// coerce converts v to the Go representation of spec.Type: float64, int64 or
// string.
func coerce(spec Spec, v any) (any, error) {
	switch spec.Type {
	case TypeDouble:
		if v == nil {
			return 0.0, nil
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T) is not a number", ErrInvalidValue, v, v)
		}
		return f, nil

	case TypeInt:
		if v == nil {
			return int64(0), nil
		}
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
		f, ok := toFloat(v)
		if !ok || math.Trunc(f) != f || f >= 1<<63 || f < -(1<<63) {
			return nil, fmt.Errorf("%w: %v (%T) is not an integer", ErrInvalidValue, v, v)
		}
		switch i := v.(type) {
		case int:
			return int64(i), nil
		case int64:
			return i, nil
		}
		return int64(f), nil

	case TypeString:
		if v == nil {
			return "", nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T) is not a string", ErrInvalidValue, v, v)
		}
		if len(s) > spec.MaxLength {
			return nil, fmt.Errorf("%w: %d bytes exceeds max length %d", ErrInvalidValue, len(s), spec.MaxLength)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidValue, spec.Type)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
