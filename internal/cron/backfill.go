package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/logger"
	"github.com/bowerhall/mira/internal/memory"
)

// cronParser is configured for standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

const defaultBatch = 50

type MessageStore interface {
	MessagesMissingEmbedding(ctx context.Context, afterSeq int64, limit int) ([]memory.PendingMessage, error)
	UpdateMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backfill computes embeddings for messages stored without one.
type Backfill struct {
	store    MessageStore
	embedder Embedder
	batch    int

	mu      sync.Mutex
	lastRun time.Time
	filled  int
	// cursor is the seq of the last message visited in the current sweep.
	// Messages that could not be filled stay behind it until the sweep
	// wraps around.
	cursor  int64
	nextRun time.Time
}

func NewBackfill(store MessageStore, embedder Embedder, batch int) *Backfill {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Backfill{store: store, embedder: embedder, batch: batch}
}

// RunOnce fills up to one batch and returns how many messages were
// updated. It stops early when the embedder itself is failing, since every
// remaining message would fail the same way.
func (b *Backfill) RunOnce(ctx context.Context) (int, error) {
	b.mu.Lock()
	cursor := b.cursor
	b.mu.Unlock()

	pending, err := b.store.MessagesMissingEmbedding(ctx, cursor, b.batch)
	if err != nil {
		return 0, err
	}

	filled := 0
	defer func() {
		b.mu.Lock()
		// a short batch means the sweep reached the newest message
		if len(pending) < b.batch {
			cursor = 0
		}
		b.cursor = cursor
		b.lastRun = time.Now()
		b.filled += filled
		b.mu.Unlock()
	}()

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return filled, err
		}

		vec, err := b.embedder.Embed(ctx, m.Content)
		if err != nil {
			if apperr.IsKind(err, apperr.KindValidation) {
				logger.Warn("skipping message that cannot be embedded", "id", m.ID, "error", err)
				cursor = m.Seq
				continue
			}
			return filled, fmt.Errorf("embed message %s: %w", m.ID, err)
		}

		cursor = m.Seq
		if err := b.store.UpdateMessageEmbedding(ctx, m.ID, vec); err != nil {
			logger.Warn("failed to store backfilled embedding", "id", m.ID, "error", err)
			continue
		}
		filled++
	}

	return filled, nil
}

// Stats reports when the last batch finished, when the next one is due
// (zero when unscheduled) and the running total.
func (b *Backfill) Stats() (lastRun, nextRun time.Time, filled int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun, b.nextRun, b.filled
}

func (b *Backfill) scheduleNext(spec string, from time.Time) {
	next, err := ComputeNextRun(spec, from)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.nextRun = next
	b.mu.Unlock()
}

// Scheduler runs a Backfill on a cron schedule.
type Scheduler struct {
	c      *cron.Cron
	cancel context.CancelFunc
}

// Start schedules job according to spec (standard 5-field syntax). Runs
// never overlap; a run still in progress causes the next one to be skipped.
func Start(ctx context.Context, spec string, job *Backfill) (*Scheduler, error) {
	next, err := ComputeNextRun(spec, time.Now())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	_, err = c.AddFunc(spec, func() {
		defer job.scheduleNext(spec, time.Now())

		n, err := job.RunOnce(ctx)
		if err != nil {
			logger.Warn("embedding backfill failed", "filled", n, "error", err)
			return
		}
		if n > 0 {
			logger.Info("embedding backfill", "filled", n)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("schedule backfill: %w", err)
	}

	job.scheduleNext(spec, time.Now())
	c.Start()
	logger.Info("embedding backfill scheduled", "schedule", spec, "next_run", next)

	return &Scheduler{c: c, cancel: cancel}, nil
}

// Stop cancels any running batch and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.c.Stop().Done()
}

// ComputeNextRun calculates the next run time for a cron schedule
func ComputeNextRun(schedule string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched.Next(from), nil
}
