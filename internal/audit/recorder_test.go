package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/store/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// flakyAuditStore wraps the in-memory store with a switchable failure mode.
type flakyAuditStore struct {
	mu       sync.Mutex
	inner    store.AuditStore
	failing  bool
	failures int
}

func (s *flakyAuditStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		s.failures++
		return errors.New("store unavailable")
	}
	return s.inner.Append(ctx, entry)
}

func (s *flakyAuditStore) ListRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ListRecent(ctx, limit)
}

func (s *flakyAuditStore) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func TestRecordDefaults(t *testing.T) {
	ctx := context.Background()
	auditStore := memory.NewAuditStore()
	recorder := NewRecorder(auditStore, clock.NewFake(testStart), zerolog.Nop())
	t.Cleanup(recorder.Close)

	recorder.Record(ctx, Event{
		Action:   "session.create",
		Resource: "session",
	})

	entries, err := auditStore.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].EntryID)
	require.Nil(t, entries[0].ActorID)
	require.Equal(t, models.AuditInfo, entries[0].Severity, "severity defaults to info")
	require.Equal(t, testStart, entries[0].CreatedAt)
}

func TestRecordQueuesOnFailure(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyAuditStore{inner: memory.NewAuditStore(), failing: true}
	recorder := NewRecorder(flaky, clock.NewFake(testStart), zerolog.Nop())

	// Record never fails the caller even while the store is down.
	recorder.Record(ctx, Event{Action: "principal.create", Resource: "principal"})
	recorder.Record(ctx, Event{Action: "session.create", Resource: "session"})

	entries, err := flaky.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	// Close drains the queue into the recovered store.
	flaky.setFailing(false)
	recorder.Close()

	entries, err = flaky.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRecordCriticalRetries(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewAuditStore()
	flaky := &flakyAuditStore{inner: inner, failing: true}
	recorder := NewRecorder(flaky, clock.NewFake(testStart), zerolog.Nop())
	t.Cleanup(recorder.Close)

	// Recover the store after the first attempt fails; the retry must land
	// the entry.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			flaky.mu.Lock()
			failed := flaky.failures > 0
			flaky.mu.Unlock()
			if failed {
				flaky.setFailing(false)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := recorder.RecordCritical(ctx, Event{
		Action:   "principal.lockout",
		Resource: "principal",
		Severity: models.AuditCritical,
	})
	require.NoError(t, err)
	<-done

	entries, err := inner.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.AuditCritical, entries[0].Severity)
}

func TestRecordCriticalGivesUp(t *testing.T) {
	flaky := &flakyAuditStore{inner: memory.NewAuditStore(), failing: true}
	recorder := NewRecorder(flaky, clock.NewFake(testStart), zerolog.Nop())
	t.Cleanup(recorder.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := recorder.RecordCritical(ctx, Event{
		Action:   "apikey.revoke",
		Resource: "api_key",
	})
	require.Error(t, err)
}
