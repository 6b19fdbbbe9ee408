// Package file stores observations as JSON lines in a timestamped
// results_<ts>.json file under a directory.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"repscan/internal/record"
	"repscan/internal/storage"
)

// Kind is the registry key of this backend.
const Kind = "file"

// TimestampLayout names result files, e.g. results_20260301_101500.json.
const TimestampLayout = "20060102_150405"

const pattern = "results_*.json"

type line struct {
	RunID      string        `json:"run_id"`
	Identifier string        `json:"identifier"`
	ObservedAt time.Time     `json:"observed_at"`
	RecordHash string        `json:"record_hash"`
	Record     record.Record `json:"record"`
}

// Repo appends one JSON object per observation. Earlier result files in the
// same directory are read for Load and dedupe.
type Repo struct {
	dir  string
	path string

	mu     sync.Mutex
	f      *os.File
	seen   map[string]bool
	closed bool
}

func init() {
	storage.Register(Kind, New)
}

// New uses cfg.DSN as the results directory; "" means the working directory.
func New(_ context.Context, cfg storage.Config) (storage.Repository, error) {
	return open(cfg.DSN, time.Now())
}

func open(dir string, now time.Time) (*Repo, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	r := &Repo{
		dir:  dir,
		path: filepath.Join(dir, "results_"+now.Format(TimestampLayout)+".json"),
		seen: map[string]bool{},
	}
	err := r.scan(func(l line) {
		r.seen[dedupeKey(l)] = true
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Path is the file this repository appends to.
func (r *Repo) Path() string { return r.path }

// EnsureSchema creates the results file.
func (r *Repo) EnsureSchema(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return storage.Wrap(Kind, "ensure schema", r.ensureOpen())
}

func (r *Repo) ensureOpen() error {
	if r.closed {
		return errors.New("repository closed")
	}
	if r.f != nil {
		return nil
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	r.f = f
	return nil
}

func (r *Repo) Save(_ context.Context, o storage.Observation) error {
	l := line{
		RunID:      o.RunID,
		Identifier: o.Identifier,
		ObservedAt: o.ObservedAt.UTC(),
		RecordHash: o.Record.Fingerprint(),
		Record:     o.Record,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := dedupeKey(l)
	if r.seen[key] {
		return nil
	}
	if err := r.ensureOpen(); err != nil {
		return storage.Wrap(Kind, "save", err)
	}

	b, err := json.Marshal(l)
	if err != nil {
		return storage.Wrap(Kind, "save", err)
	}
	if _, err := r.f.Write(append(b, '\n')); err != nil {
		return storage.Wrap(Kind, "save", fmt.Errorf("write %s: %w", r.path, err))
	}
	r.seen[key] = true
	return nil
}

// Load returns the observation with the newest observed_at across all result
// files in the directory. Ties go to the greater record hash.
func (r *Repo) Load(_ context.Context, identifier string) (storage.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		best  line
		found bool
	)
	err := r.scan(func(l line) {
		if l.Identifier != identifier {
			return
		}
		if !found || newer(l, best) {
			best, found = l, true
		}
	})
	if err != nil {
		return storage.Observation{}, storage.Wrap(Kind, "load", err)
	}
	if !found {
		return storage.Observation{}, storage.Wrap(Kind, "load", storage.ErrNotFound)
	}
	return storage.Observation{
		RunID:      best.RunID,
		Identifier: best.Identifier,
		ObservedAt: best.ObservedAt,
		Record:     best.Record,
	}, nil
}

func (r *Repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.f == nil {
		return nil
	}
	return r.f.Close()
}

// scan feeds every decodable line of every result file, oldest file first.
func (r *Repo) scan(fn func(line)) error {
	paths, err := filepath.Glob(filepath.Join(r.dir, pattern))
	if err != nil {
		return err
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := scanFile(p, fn); err != nil {
			return err
		}
	}
	return nil
}

func scanFile(path string, fn func(line)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var l line
		// A torn trailing line from an interrupted run is skipped.
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			continue
		}
		fn(l)
	}
	return sc.Err()
}

func newer(a, b line) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	return a.RecordHash > b.RecordHash
}

func dedupeKey(l line) string {
	return l.Identifier + "\x00" + l.ObservedAt.UTC().Format(time.RFC3339Nano) + "\x00" + l.RecordHash
}
