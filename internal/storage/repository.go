package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"repscan/internal/record"
)

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Observation is one persisted lookup result.
type Observation struct {
	RunID      string
	Identifier string
	ObservedAt time.Time
	Record     record.Record
}

// Repository persists observations. Each backend implements the dedupe
// semantics in its own idiomatic way (Postgres ON CONFLICT, SQLite OR IGNORE,
// SQL Server NOT EXISTS).
type Repository interface {
	// EnsureSchema creates the observations table when missing. Safe to call
	// on every startup.
	EnsureSchema(ctx context.Context) error

	// Save stores an observation. Re-saving the same observation (identifier,
	// observed_at and record) is a no-op.
	Save(ctx context.Context, o Observation) error

	// Load returns the observation with the newest observed_at for
	// identifier, or ErrNotFound. Ties on observed_at go to the greater
	// record hash.
	Load(ctx context.Context, identifier string) (Observation, error)

	// Close releases backend resources. Repeated calls are a no-op.
	Close() error
}

var (
	// ErrNotFound is returned by Load when nothing was saved for an identifier.
	ErrNotFound = errors.New("storage: observation not found")

	// ErrUnsupported is returned by write-only sinks for read operations.
	ErrUnsupported = errors.New("storage: operation not supported by backend")
)

// Error is a persistence fault. Callers keep the in-memory result when a
// save fails; Error only describes what went wrong.
type Error struct {
	Kind string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as an *Error, or nil when err is nil. Sentinel errors stay
// matchable through errors.Is.
func Wrap(kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Factory constructs a Repository for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Ambiguous backend selection fails fast.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns, wrapped as *Error.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	repo, err := f(ctx, cfg)
	if err != nil {
		return nil, Wrap(cfg.Kind, "open", err)
	}
	return repo, nil
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
