package embedder

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/logger"
)

// Model produces raw inference output for one text.
type Model interface {
	Infer(ctx context.Context, text string) (Output, error)
	Close() error
}

// Loader constructs a Model. It runs at most once per successful load.
type Loader func(ctx context.Context) (Model, error)

// Service is the process-wide embedding generator. The model is loaded on
// first use; concurrent first callers share a single load.
type Service struct {
	load      Loader
	dimension int

	group singleflight.Group
	mu    sync.RWMutex
	model Model
	loads atomic.Int64
}

func NewService(load Loader, dimension int) *Service {
	return &Service{load: load, dimension: dimension}
}

// Embed returns a vector of exactly Dimension() values for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embedder.Embed"

	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation(op, "text is empty")
	}

	model, err := s.ensureModel(ctx)
	if err != nil {
		return nil, err
	}

	out, err := model.Infer(ctx, text)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			return nil, apperr.Wrap(apperr.KindExternalService, op, err)
		}
		return nil, err
	}

	vec, err := out.Vector(s.dimension)
	if err != nil {
		return nil, err
	}

	return vec, nil
}

func (s *Service) ensureModel(ctx context.Context) (Model, error) {
	if m := s.current(); m != nil {
		return m, nil
	}

	ch := s.group.DoChan("model", func() (any, error) {
		// a load may have finished between the check above and joining
		if m := s.current(); m != nil {
			return m, nil
		}

		s.loads.Add(1)
		logger.Info("loading embedding model", "dimension", s.dimension)

		// shared by every waiter, so one caller's cancellation must not abort it
		m, err := s.load(context.WithoutCancel(ctx))
		if err != nil {
			logger.Error("embedding model load failed", "error", err)
			return nil, err
		}

		s.mu.Lock()
		s.model = m
		s.mu.Unlock()

		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if apperr.KindOf(res.Err) == apperr.KindUnknown {
				return nil, apperr.Wrap(apperr.KindExternalService, "embedder.load", res.Err)
			}
			return nil, res.Err
		}
		return res.Val.(Model), nil
	}
}

func (s *Service) current() Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

func (s *Service) Dimension() int {
	return s.dimension
}

// Ready reports whether the model has been loaded.
func (s *Service) Ready() bool {
	return s.current() != nil
}

// Loads counts load attempts, successful or not.
func (s *Service) Loads() int64 {
	return s.loads.Load()
}

func (s *Service) Close() error {
	s.mu.Lock()
	m := s.model
	s.model = nil
	s.mu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close()
}
