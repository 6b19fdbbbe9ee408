package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"repscan/internal/record"
	"repscan/internal/storage"
)

// openTemp opens a file-backed database under t.TempDir with the schema in place.
func openTemp(t *testing.T) *Repo {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.Open(ctx, storage.Config{Kind: Kind, DSN: filepath.Join(t.TempDir(), "obs.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// Second call must be a no-op.
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema (again): %v", err)
	}
	return repo.(*Repo)
}

func sampleRecord() record.Record {
	var rec record.Record
	rec.Put("OWNER DETAILS", record.NewFieldMap("HOSTNAME", "dns.google", "LOCATION", "United States"))
	rec.Put("IPINFO.IO DATA", record.NewFieldMap("Organization", "Google LLC"))
	return rec
}

func countRows(t *testing.T, r *Repo) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM "observations"`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestRepo_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTemp(t)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	in := storage.Observation{RunID: "run-1", Identifier: "8.8.8.8", ObservedAt: at, Record: sampleRecord()}
	if err := r.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := r.Load(ctx, "8.8.8.8")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != "run-1" || !got.ObservedAt.Equal(at) {
		t.Fatalf("metadata = %q %s", got.RunID, got.ObservedAt)
	}
	if !got.Record.Equal(in.Record) {
		t.Fatalf("record mismatch:\n got %v\nwant %v", got.Record.Groups(), in.Record.Groups())
	}
	if diff := cmp.Diff(in.Record.Groups(), got.Record.Groups()); diff != "" {
		t.Fatalf("group order (-want +got):\n%s", diff)
	}
}

func TestRepo_IdenticalResaveIsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTemp(t)

	o := storage.Observation{RunID: "run-1", Identifier: "8.8.8.8", ObservedAt: time.Unix(100, 0), Record: sampleRecord()}
	if err := r.Save(ctx, o); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := r.Save(ctx, o); err != nil {
		t.Fatalf("Save (again): %v", err)
	}
	if n := countRows(t, r); n != 3 {
		t.Fatalf("rows = %d, want 3", n)
	}

	// The same record observed later is a new observation.
	o.RunID = "run-2"
	o.ObservedAt = time.Unix(200, 0)
	if err := r.Save(ctx, o); err != nil {
		t.Fatalf("Save (later): %v", err)
	}
	if n := countRows(t, r); n != 6 {
		t.Fatalf("rows = %d, want 6", n)
	}
	got, err := r.Load(ctx, "8.8.8.8")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RunID != "run-2" || !got.ObservedAt.Equal(time.Unix(200, 0)) {
		t.Fatalf("Load = %q %s, want run-2 at the later time", got.RunID, got.ObservedAt)
	}
	if !got.Record.Equal(o.Record) {
		t.Fatalf("record mismatch: %v", got.Record.Groups())
	}
}

func TestRepo_LoadAfterStatusReverts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTemp(t)

	listed := record.Record{}
	listed.Put("BLOCK LISTS", record.NewFieldMap("ZEN.SPAMHAUS.ORG", "Listed"))
	clean := record.Record{}
	clean.Put("BLOCK LISTS", record.NewFieldMap("ZEN.SPAMHAUS.ORG", "Not Listed"))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, rec := range []record.Record{listed, clean, listed} {
		o := storage.Observation{RunID: "run", Identifier: "1.2.3.4", ObservedAt: base.Add(time.Duration(i) * time.Hour), Record: rec}
		if err := r.Save(ctx, o); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}

	got, err := r.Load(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := got.Record.Value("BLOCK LISTS", "ZEN.SPAMHAUS.ORG"); v != "Listed" {
		t.Fatalf("ZEN.SPAMHAUS.ORG = %q, want Listed", v)
	}
	if want := base.Add(2 * time.Hour); !got.ObservedAt.Equal(want) {
		t.Fatalf("ObservedAt = %s, want %s", got.ObservedAt, want)
	}
}

func TestRepo_LoadReturnsNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTemp(t)

	var newer record.Record
	newer.Put("OWNER DETAILS", record.NewFieldMap("HOSTNAME", "changed.example"))

	_ = r.Save(ctx, storage.Observation{RunID: "a", Identifier: "1.1.1.1", ObservedAt: time.Unix(100, 0), Record: sampleRecord()})
	_ = r.Save(ctx, storage.Observation{RunID: "b", Identifier: "1.1.1.1", ObservedAt: time.Unix(100, 5), Record: newer})

	got, err := r.Load(ctx, "1.1.1.1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, _ := got.Record.Value("OWNER DETAILS", "HOSTNAME"); v != "changed.example" {
		t.Fatalf("HOSTNAME = %q", v)
	}
	if got.Record.Len() != 1 {
		t.Fatalf("groups = %v", got.Record.Groups())
	}
}

func TestRepo_EmptyRecordPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := openTemp(t)

	if err := r.Save(ctx, storage.Observation{RunID: "a", Identifier: "9.9.9.9", ObservedAt: time.Unix(1, 0)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := r.Load(ctx, "9.9.9.9")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Record.IsEmpty() {
		t.Fatalf("expected empty record, got %v", got.Record.Groups())
	}
}

func TestRepo_LoadNotFound(t *testing.T) {
	t.Parallel()
	r := openTemp(t)

	_, err := r.Load(context.Background(), "203.0.113.9")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var se *storage.Error
	if !errors.As(err, &se) || se.Kind != Kind || se.Op != "load" {
		t.Fatalf("err = %#v, want *storage.Error{Kind: sqlite, Op: load}", err)
	}
}

func TestRepo_SaveWithoutSchemaFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, err := New(ctx, storage.Config{DSN: filepath.Join(t.TempDir(), "bare.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer repo.Close()

	err = repo.Save(ctx, storage.Observation{Identifier: "8.8.8.8", Record: sampleRecord()})
	var se *storage.Error
	if !errors.As(err, &se) || se.Op != "save" {
		t.Fatalf("err = %v, want save fault", err)
	}
}

func TestRepo_CloseTwice(t *testing.T) {
	t.Parallel()
	r := openTemp(t)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close (again): %v", err)
	}
}

func TestNew_EmptyDSN(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), storage.Config{Kind: Kind}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
