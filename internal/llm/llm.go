// Package llm wraps the chat models EmotiBot talks to.
package llm

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/vanshikaxcx/emotibot/internal/metrics"
)

var ErrEmptyResponse = errors.New("empty model response")

type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

// Fallback asks each generator in turn and returns the first answer.
type Fallback struct {
	gens    []Generator
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewFallback(timeout time.Duration, m *metrics.Metrics, gens ...Generator) *Fallback {
	return &Fallback{gens: gens, timeout: timeout, metrics: m}
}

func (f *Fallback) Name() string {
	names := make([]string, len(f.gens))
	for i, g := range f.gens {
		names[i] = g.Name()
	}
	return strings.Join(names, ",")
}

func (f *Fallback) Generate(ctx context.Context, system, prompt string) (string, error) {
	if len(f.gens) == 0 {
		return "", fmt.Errorf("no language model configured")
	}

	var errs []error
	for _, g := range f.gens {
		out, err := f.try(ctx, g, system, prompt)
		if err == nil {
			return out, nil
		}
		log.Warn("Model failed", "model", g.Name(), "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))

		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}

func (f *Fallback) try(ctx context.Context, g Generator, system, prompt string) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := g.Generate(ctx, system, prompt)
	if err == nil && strings.TrimSpace(out) == "" {
		err = ErrEmptyResponse
	}
	f.metrics.RecordLLM(g.Name(), time.Since(start), err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
