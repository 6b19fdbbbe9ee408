package natssink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"repscan/internal/record"
	"repscan/internal/storage"
)

type fakeConn struct {
	msgs     []*nats.Msg
	pubErr   error
	flushErr error
	drained  int
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.pubErr != nil {
		return f.pubErr
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error { return f.flushErr }

func (f *fakeConn) Drain() error { f.drained++; return nil }

func TestParseDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dsn, server, subject string
		wantErr              bool
	}{
		{"", nats.DefaultURL, DefaultSubject, false},
		{"nats://localhost:4222", "nats://localhost:4222", DefaultSubject, false},
		{"nats://u:p@broker:4222/scans.ip", "nats://u:p@broker:4222", "scans.ip", false},
		{"nats://broker:4222/scans.*", "", "", true},
	}
	for _, tt := range tests {
		server, subject, err := parseDSN(tt.dsn)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseDSN(%q) err=%v wantErr=%v", tt.dsn, err, tt.wantErr)
		}
		if tt.wantErr {
			continue
		}
		if server != tt.server || subject != tt.subject {
			t.Fatalf("parseDSN(%q) = %q,%q want %q,%q", tt.dsn, server, subject, tt.server, tt.subject)
		}
	}
}

func TestSink_SavePublishesWithHeaders(t *testing.T) {
	t.Parallel()

	var rec record.Record
	rec.Put("OWNER DETAILS", record.NewFieldMap("HOSTNAME", "dns.google"))

	fc := &fakeConn{}
	s := &Sink{conn: fc, subject: "scans.ip"}
	o := storage.Observation{RunID: "run-1", Identifier: "8.8.8.8", ObservedAt: time.Unix(100, 0), Record: rec}
	if err := s.Save(context.Background(), o); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(fc.msgs) != 1 {
		t.Fatalf("published %d messages", len(fc.msgs))
	}
	msg := fc.msgs[0]
	if msg.Subject != "scans.ip" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if got := msg.Header.Get(nats.MsgIdHdr); got != "8.8.8.8:100000000000:"+rec.Fingerprint() {
		t.Fatalf("msg id = %q", got)
	}
	if got := msg.Header.Get(HeaderIdentifier); got != "8.8.8.8" {
		t.Fatalf("identifier header = %q", got)
	}

	var m Message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if m.RunID != "run-1" || !m.Record.Equal(rec) {
		t.Fatalf("payload = %+v", m)
	}
}

func TestSink_Faults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := &Sink{conn: &fakeConn{pubErr: nats.ErrConnectionClosed}, subject: DefaultSubject}
	err := s.Save(ctx, storage.Observation{Identifier: "8.8.8.8"})
	if !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("err = %v", err)
	}

	s = &Sink{conn: &fakeConn{flushErr: context.DeadlineExceeded}, subject: DefaultSubject}
	if err := s.EnsureSchema(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("EnsureSchema err = %v", err)
	}

	if _, err := s.Load(ctx, "8.8.8.8"); !errors.Is(err, storage.ErrUnsupported) {
		t.Fatalf("Load err = %v", err)
	}
}

func TestSink_CloseDrainsOnce(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	s := &Sink{conn: fc, subject: DefaultSubject}
	_ = s.Close()
	_ = s.Close()
	if fc.drained != 1 {
		t.Fatalf("drained %d times", fc.drained)
	}
}
