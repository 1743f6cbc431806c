// Package logbus is the spec's LogBus: pub/sub for live log lines keyed by
// run id that persists every published line to Store before or
// concurrently with fanout, and lets a subscriber catch up on everything
// it missed before attaching to the live stream (spec §2, §4.7).
//
// It is built directly on the teacher's internal/pubsub primitive
// (MemoryPubSub / RedisPubSub) for the live-fanout half, and on
// internal/store for the persisted half and catch-up query.
package logbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"automationhub/internal/enum"
	"automationhub/internal/pubsub"
	"automationhub/internal/store"
)

// LogBus publishes run log lines and status transitions, and lets
// subscribers catch up from Store before joining the live stream.
type LogBus struct {
	store store.Store
	ps    pubsub.PubSub
}

// New builds a LogBus over st for persistence/catch-up and ps for fanout.
func New(st store.Store, ps pubsub.PubSub) *LogBus {
	return &LogBus{store: st, ps: ps}
}

// Publish persists l to Store (assigning the next sequence if zero) and
// fans it out to live subscribers of runID's topic. Store write happens
// first so a subscriber that misses the live message always finds the
// line on its next catch-up read (spec invariant 5: subscribers observe a
// strict prefix of the persisted, totally ordered sequence).
func (b *LogBus) Publish(ctx context.Context, runID uuid.UUID, l *store.RunLog) error {
	if l.Sequence == 0 {
		seq, err := b.store.NextLogSequence(ctx, runID)
		if err != nil {
			return fmt.Errorf("logbus: next sequence: %w", err)
		}
		l.Sequence = seq
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now()
	}
	l.RunID = runID

	if err := b.store.AppendRunLog(ctx, l); err != nil {
		return fmt.Errorf("logbus: append log: %w", err)
	}

	event := pubsub.RunLogEvent{
		Type: pubsub.EventTypeRunLog, RunID: runID.String(), Sequence: l.Sequence,
		Level: string(l.Level), Message: l.Message, PostTerminal: l.PostTerminal, Timestamp: l.Timestamp,
	}
	return b.ps.Publish(ctx, pubsub.RunTopic(runID.String()), event)
}

// PublishStatus fans out a run status transition without touching Store —
// Store is written by runengine itself as part of the transition; this is
// purely the live-notification half.
func (b *LogBus) PublishStatus(ctx context.Context, runID uuid.UUID, status enum.RunStatus) error {
	event := pubsub.RunStatusEvent{
		Type: pubsub.EventTypeRunStatus, RunID: runID.String(), Status: string(status), Timestamp: time.Now(),
	}
	return b.ps.Publish(ctx, pubsub.RunTopic(runID.String()), event)
}

// Line is a reconstructed log line delivered by Stream, covering both
// catch-up (from Store) and live (from pubsub) lines through one channel.
type Line struct {
	Sequence     int64
	Level        enum.LogLevel
	Message      string
	PostTerminal bool
	Timestamp    time.Time
}

// Stream replays every persisted line with sequence > afterSeq, then
// continues with live lines as they are published, deduplicating by
// sequence so a line delivered once during catch-up is never replayed —
// the seamless catch-up-then-live handover spec §2 calls for. The
// returned channel closes when ctx is canceled.
func (b *LogBus) Stream(ctx context.Context, runID uuid.UUID, afterSeq int64) (<-chan Line, error) {
	out := make(chan Line, 256)

	raw, unsub := b.ps.Subscribe(ctx, pubsub.RunTopic(runID.String()))

	go func() {
		defer close(out)
		defer unsub()

		lastSeq := afterSeq

		backlog, err := b.store.LogsSince(ctx, runID, lastSeq, 0)
		if err == nil {
			for _, l := range backlog {
				select {
				case out <- Line{Sequence: l.Sequence, Level: l.Level, Message: l.Message, PostTerminal: l.PostTerminal, Timestamp: l.Timestamp}:
					lastSeq = l.Sequence
				case <-ctx.Done():
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var event pubsub.RunLogEvent
				if jsonErr := json.Unmarshal(msg, &event); jsonErr != nil {
					continue
				}
				if event.Type != pubsub.EventTypeRunLog || event.Sequence <= lastSeq {
					continue
				}
				lastSeq = event.Sequence
				select {
				case out <- Line{
					Sequence: event.Sequence, Level: enum.LogLevel(event.Level), Message: event.Message,
					PostTerminal: event.PostTerminal, Timestamp: event.Timestamp,
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
