package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/rpg/internal/metrics"
)

// Service composes prompts and opens upstream streams.
type Service struct {
	composer *Composer
	upstream Upstream
	log      *zap.Logger
}

// NewService wires a composer to upstream. A nil logger is replaced by a no-op.
func NewService(upstream Upstream, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		composer: NewComposer(),
		upstream: upstream,
		log:      log.With(zap.String("component", "ai")),
	}
}

// Complete composes req and returns the raw upstream event stream.
func (s *Service) Complete(ctx context.Context, req CompletionRequest) (io.ReadCloser, error) {
	if s == nil || s.upstream == nil {
		return nil, ErrNotConfigured
	}

	messages, err := s.composer.Compose(ctx, req)
	if err != nil {
		return nil, err
	}

	body, err := s.upstream.Stream(ctx, messages)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			metrics.UpstreamErrors.WithLabelValues(string(te.Category)).Inc()
			s.log.Warn("upstream request failed",
				zap.String("category", string(te.Category)),
				zap.Int("status", te.Status),
				zap.String("body", te.Body))
			return nil, err
		}
		metrics.UpstreamErrors.WithLabelValues(string(CategoryNetwork)).Inc()
		return nil, fmt.Errorf("open upstream stream: %w", err)
	}

	s.log.Debug("upstream stream opened",
		zap.String("character", req.Character.Name),
		zap.Int("turns", len(req.Messages)),
		zap.Bool("rpg", req.IsRPGMode))
	return body, nil
}
