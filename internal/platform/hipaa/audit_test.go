package hipaa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type failingAuditStore struct{ err error }

func (s failingAuditStore) Append(context.Context, *AuditEntry) error { return s.err }
func (s failingAuditStore) Query(context.Context, AuditQuery) (*AuditPage, error) {
	return &AuditPage{}, nil
}

// blockingAuditStore holds every Append until release is closed.
type blockingAuditStore struct {
	*MemoryAuditStore
	release chan struct{}
	sawCtx  chan error
}

func (s *blockingAuditStore) Append(ctx context.Context, e *AuditEntry) error {
	<-s.release
	s.sawCtx <- ctx.Err()
	return s.MemoryAuditStore.Append(ctx, e)
}

func validEntry() AuditEntry {
	doc := uuid.New()
	return AuditEntry{
		ActorID:        "user-1",
		Action:         ActionCreate,
		CollectionName: "patients",
		DocumentID:     &doc,
		After:          Snapshot(map[string]string{"name": "Maria"}),
		IP:             "10.0.0.1",
		UserAgent:      "ecg-console/1.0",
	}
}

func TestAuditRecorder_RecordPersists(t *testing.T) {
	store := NewMemoryAuditStore()
	rec := NewAuditRecorder(store, zerolog.Nop())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	rec.Record(context.Background(), validEntry())
	rec.Flush()

	entries := store.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if !got.Timestamp.Equal(fixed) {
		t.Errorf("expected timestamp %v, got %v", fixed, got.Timestamp)
	}
	if got.Before != nil {
		t.Errorf("expected nil before, got %s", got.Before)
	}
	if !strings.Contains(string(got.After), "Maria") {
		t.Errorf("unexpected after snapshot %s", got.After)
	}
}

func TestAuditRecorder_DropsInvalidEntries(t *testing.T) {
	cases := map[string]func(*AuditEntry){
		"missing actor":      func(e *AuditEntry) { e.ActorID = "" },
		"unknown action":     func(e *AuditEntry) { e.Action = "read" },
		"missing ip":         func(e *AuditEntry) { e.IP = "" },
		"missing user agent": func(e *AuditEntry) { e.UserAgent = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			var logs bytes.Buffer
			store := NewMemoryAuditStore()
			rec := NewAuditRecorder(store, zerolog.New(&logs))

			e := validEntry()
			mutate(&e)
			rec.Record(context.Background(), e)
			rec.Flush()

			if n := len(store.Entries()); n != 0 {
				t.Errorf("expected entry to be dropped, got %d stored", n)
			}
			if !strings.Contains(logs.String(), "audit entry dropped") {
				t.Errorf("expected drop to be logged, got %s", logs.String())
			}
		})
	}
}

func TestAuditRecorder_StoreFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	rec := NewAuditRecorder(failingAuditStore{err: errors.New("connection reset")}, zerolog.New(&logs))

	rec.Record(context.Background(), validEntry())
	rec.Flush()

	out := logs.String()
	if !strings.Contains(out, "audit write failed") || !strings.Contains(out, "connection reset") {
		t.Errorf("expected write failure in log, got %s", out)
	}
	if !strings.Contains(out, `"collection":"patients"`) {
		t.Errorf("expected collection in log, got %s", out)
	}
}

func TestAuditRecorder_DoesNotBlockAndOutlivesCancel(t *testing.T) {
	store := &blockingAuditStore{
		MemoryAuditStore: NewMemoryAuditStore(),
		release:          make(chan struct{}),
		sawCtx:           make(chan error, 1),
	}
	rec := NewAuditRecorder(store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Record(ctx, validEntry())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on the store")
	}

	cancel()
	close(store.release)
	rec.Flush()

	if err := <-store.sawCtx; err != nil {
		t.Errorf("expected detached context, got %v", err)
	}
	if n := len(store.Entries()); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestAuditRecorder_Concurrent(t *testing.T) {
	store := NewMemoryAuditStore()
	rec := NewAuditRecorder(store, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(context.Background(), validEntry())
		}()
	}
	wg.Wait()
	rec.Flush()

	if n := len(store.Entries()); n != 50 {
		t.Errorf("expected 50 entries, got %d", n)
	}
}

func TestSnapshot(t *testing.T) {
	if Snapshot(nil) != nil {
		t.Error("expected nil snapshot for nil")
	}
	var m map[string]any
	if Snapshot(m) != nil {
		t.Error("expected nil snapshot for nil map")
	}
	raw := Snapshot(map[string]any{"national_id": MaskNationalID("12345678900")})
	var back map[string]string
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["national_id"] != "***.***.8900" {
		t.Errorf("unexpected snapshot %s", raw)
	}
}
