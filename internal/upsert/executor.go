// Package upsert writes reconciled listings to the store in retried chunks.
package upsert

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-sync/internal/model"
	"github.com/sells-group/listing-sync/internal/resilience"
)

// DefaultChunkSize is the number of records sent per write.
const DefaultChunkSize = 200

// Writer persists one chunk of listings.
type Writer interface {
	UpsertListings(ctx context.Context, listings []model.Listing) error
}

// Config controls chunking and retries.
type Config struct {
	ChunkSize   int
	MaxAttempts int
	// RetryStep is the delay increment: the n-th retry waits n*RetryStep.
	RetryStep time.Duration
}

// Stats reports the outcome of one Upsert call.
type Stats struct {
	Input        int      `json:"input"`
	Deduplicated int      `json:"deduplicated"`
	Chunks       int      `json:"chunks"`
	Written      int      `json:"written"`
	FailedChunks int      `json:"failed_chunks"`
	Unwritten    int      `json:"unwritten"`
	Errors       []string `json:"errors,omitempty"`
	// UnwrittenIDs lists the records of failed chunks.
	UnwrittenIDs []string `json:"unwritten_ids,omitempty"`
}

// Executor deduplicates, chunks and writes listings.
type Executor struct {
	cfg   Config
	retry resilience.RetryConfig
	log   *zap.Logger
}

// NewExecutor creates an Executor. Zero values fall back to 200 records per
// chunk, 3 attempts and a 1s step.
func NewExecutor(cfg Config) *Executor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = time.Second
	}
	log := zap.L().With(zap.String("component", "upsert.executor"))
	return &Executor{
		cfg: cfg,
		retry: resilience.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     resilience.LinearTable(cfg.RetryStep, cfg.MaxAttempts-1),
			ShouldRetry: func(error) bool { return true },
			OnRetry:     resilience.RetryLogger("store", "upsert_listings"),
		},
		log: log,
	}
}

// Upsert writes records to target. A chunk that exhausts its retries is
// counted as unwritten and the remaining chunks are still attempted.
func (e *Executor) Upsert(ctx context.Context, records []model.Listing, target Writer) Stats {
	deduped := Dedupe(records)
	st := Stats{Input: len(records), Deduplicated: len(deduped)}

	for start := 0; start < len(deduped); start += e.cfg.ChunkSize {
		end := min(start+e.cfg.ChunkSize, len(deduped))
		chunk := deduped[start:end]
		st.Chunks++

		err := resilience.Do(ctx, e.retry, func(ctx context.Context) error {
			if err := target.UpsertListings(ctx, chunk); err != nil {
				return resilience.NewError(resilience.KindPersistence, err)
			}
			return nil
		})
		if err != nil {
			st.FailedChunks++
			st.Unwritten += len(chunk)
			for _, l := range chunk {
				st.UnwrittenIDs = append(st.UnwrittenIDs, l.ID)
			}
			st.Errors = append(st.Errors, eris.Wrapf(err, "upsert: chunk %d", st.Chunks).Error())
			e.log.Error("chunk not written",
				zap.Int("chunk", st.Chunks),
				zap.Int("records", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		st.Written += len(chunk)
	}

	e.log.Debug("upsert complete",
		zap.Int("input", st.Input),
		zap.Int("written", st.Written),
		zap.Int("unwritten", st.Unwritten),
	)
	return st
}

// Dedupe keeps the last occurrence of each listing ID, ordered by the
// position of that last occurrence.
func Dedupe(records []model.Listing) []model.Listing {
	last := make(map[string]int, len(records))
	for i, r := range records {
		last[r.ID] = i
	}
	out := make([]model.Listing, 0, len(last))
	for i, r := range records {
		if last[r.ID] == i {
			out = append(out, r)
		}
	}
	return out
}
