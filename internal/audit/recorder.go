// Package audit records every security-relevant action to an append-only
// trail. Recording is best-effort for routine actions: a failed write is
// queued for retry instead of failing the caller's primary operation.
// Security-critical actions (account lockout, key revocation) use
// RecordCritical, which blocks until the write succeeds.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gatekeep-io/gatekeep/internal/clock"
	"github.com/gatekeep-io/gatekeep/internal/metrics"
	"github.com/gatekeep-io/gatekeep/internal/models"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	defaultQueueSize   = 1024
	criticalMaxTries   = 5
	drainFlushInterval = time.Second
)

// Event describes one auditable action. The recorder fills in the entry ID
// and timestamp.
type Event struct {
	Actor      *uuid.UUID // nil for system-initiated actions
	Action     string
	Resource   string
	ResourceID string
	Before     map[string]any
	After      map[string]any
	Severity   models.AuditSeverity
	Metadata   map[string]string
}

// Recorder appends audit entries, degrading to a bounded retry queue when
// the store is unavailable.
type Recorder struct {
	store  store.AuditStore
	clock  clock.Clock
	logger zerolog.Logger

	queue chan *models.AuditEntry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRecorder creates a Recorder and starts its retry worker.
func NewRecorder(auditStore store.AuditStore, clk clock.Clock, logger zerolog.Logger) *Recorder {
	r := &Recorder{
		store:  auditStore,
		clock:  clk,
		logger: logger.With().Str("component", "audit").Logger(),
		queue:  make(chan *models.AuditEntry, defaultQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.drainLoop()
	return r
}

// Record appends an entry, never failing the caller. If the store rejects
// the write the entry is queued for retry; if the queue is full the entry is
// dropped with an error log, which is the only case audit data is lost.
func (r *Recorder) Record(ctx context.Context, event Event) {
	entry := r.buildEntry(event)

	err := r.store.Append(ctx, entry)
	if err == nil {
		return
	}
	r.logger.Warn().Err(err).Str("action", entry.Action).Msg("audit append failed, queueing for retry")

	select {
	case r.queue <- entry:
		metrics.AuditQueueDepth.Set(float64(len(r.queue)))
	default:
		metrics.AuditDropped.Inc()
		r.logger.Error().Str("action", entry.Action).Msg("audit retry queue full, entry dropped")
	}
}

// RecordCritical appends an entry and blocks until the write succeeds or the
// retry budget is spent. Used only where audit is on the critical path:
// account lockout and API key revocation.
func (r *Recorder) RecordCritical(ctx context.Context, event Event) error {
	entry := r.buildEntry(event)

	operation := func() (struct{}, error) {
		return struct{}{}, r.store.Append(ctx, entry)
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(criticalMaxTries),
	)
	if err != nil {
		return fmt.Errorf("critical audit write failed: %w", err)
	}
	return nil
}

// Close stops the retry worker after a final drain attempt.
func (r *Recorder) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}

func (r *Recorder) buildEntry(event Event) *models.AuditEntry {
	now := r.clock.Now()
	severity := event.Severity
	if severity == "" {
		severity = models.AuditInfo
	}
	return &models.AuditEntry{
		EntryID:    ulid.Make().String(),
		ActorID:    event.Actor,
		Action:     event.Action,
		Resource:   event.Resource,
		ResourceID: event.ResourceID,
		Before:     event.Before,
		After:      event.After,
		Severity:   severity,
		Metadata:   event.Metadata,
		CreatedAt:  now,
	}
}

// drainLoop retries queued entries until Close.
func (r *Recorder) drainLoop() {
	defer close(r.done)

	ticker := time.NewTicker(drainFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

// flush attempts to re-append everything currently queued. Entries that
// still fail go back on the queue.
func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pending := len(r.queue)
	for i := 0; i < pending; i++ {
		var entry *models.AuditEntry
		select {
		case entry = <-r.queue:
		default:
			return
		}

		if err := r.store.Append(ctx, entry); err != nil {
			select {
			case r.queue <- entry:
			default:
				metrics.AuditDropped.Inc()
				r.logger.Error().Str("action", entry.Action).Msg("audit retry queue full, entry dropped")
			}
		}
	}
	metrics.AuditQueueDepth.Set(float64(len(r.queue)))
}
