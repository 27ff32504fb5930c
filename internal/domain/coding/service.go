package coding

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyBatch    = errors.New("batch contains no notes")
	ErrBatchTooLarge = errors.New("batch exceeds the maximum number of notes")
)

// DefaultMaxBatchNotes bounds a batch when no limit is configured.
const DefaultMaxBatchNotes = 100

// Response is the answer for one note.
type Response struct {
	Codes           []string     `json:"codes"`
	Results         []CodeResult `json:"results"`
	TaxonomyVersion string       `json:"taxonomy_version"`
}

// NoteResult is one entry of a batch answer, in input order.
type NoteResult struct {
	Index   int          `json:"index"`
	Codes   []string     `json:"codes"`
	Results []CodeResult `json:"results"`
	Error   string       `json:"error,omitempty"`
}

// BatchResponse is the answer for a batch of notes.
type BatchResponse struct {
	BatchID         string       `json:"batch_id"`
	TaxonomyVersion string       `json:"taxonomy_version"`
	Notes           []NoteResult `json:"notes"`
}

// Service codes single notes and batches; batches fan out over a worker
// pool.
type Service struct {
	engine   *Engine
	pool     *ants.Pool
	maxNotes int
	logger   zerolog.Logger
}

// NewService creates a coding service with a pool of workers goroutines.
// Non-positive values select runtime.NumCPU workers and
// DefaultMaxBatchNotes notes.
func NewService(engine *Engine, workers, maxNotes int, logger zerolog.Logger) (*Service, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if maxNotes <= 0 {
		maxNotes = DefaultMaxBatchNotes
	}
	logger = logger.With().Str("component", "coding-batch").Logger()
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		logger.Error().Interface("panic", p).Msg("batch worker panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("create batch pool: %w", err)
	}
	return &Service{engine: engine, pool: pool, maxNotes: maxNotes, logger: logger}, nil
}

// Close releases the worker pool.
func (s *Service) Close() {
	s.pool.Release()
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine { return s.engine }

// Code codes a single note.
func (s *Service) Code(ctx context.Context, text string, opts Options) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results, err := s.engine.GetCodes(text, opts)
	if err != nil {
		return nil, err
	}
	return &Response{
		Codes:           codesOf(results),
		Results:         results,
		TaxonomyVersion: s.engine.Version(),
	}, nil
}

// CodeBatch codes every note with the same options. Results keep the input
// order. Invalid options fail the whole batch before any note is coded.
func (s *Service) CodeBatch(ctx context.Context, notes []string, opts Options) (*BatchResponse, error) {
	if len(notes) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(notes) > s.maxNotes {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(notes), s.maxNotes)
	}
	if _, err := s.engine.resolve(opts); err != nil {
		return nil, err
	}

	out := make([]NoteResult, len(notes))
	var wg sync.WaitGroup
	for i, note := range notes {
		i, note := i, note
		out[i].Index = i
		if err := ctx.Err(); err != nil {
			out[i].Error = err.Error()
			continue
		}
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			results, err := s.engine.GetCodes(note, opts)
			if err != nil {
				out[i].Error = err.Error()
				return
			}
			out[i].Codes = codesOf(results)
			out[i].Results = results
		})
		if err != nil {
			wg.Done()
			out[i].Error = err.Error()
		}
	}
	wg.Wait()

	batchID := uuid.New().String()
	s.logger.Info().Str("batch_id", batchID).Int("notes", len(notes)).Msg("coded batch")
	return &BatchResponse{
		BatchID:         batchID,
		TaxonomyVersion: s.engine.Version(),
		Notes:           out,
	}, nil
}

func codesOf(results []CodeResult) []string {
	codes := make([]string, len(results))
	for i, r := range results {
		codes[i] = r.Code
	}
	return codes
}
