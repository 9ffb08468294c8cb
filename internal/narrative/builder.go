package narrative

import (
	"context"
	"strings"
	"time"

	"Go2NetMon/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrEmptyResponse is returned when the backend answers with blank text.
var ErrEmptyResponse = errors.New("text generation returned an empty response")

// Result is the narrative for one window. Err records why enrichment fell
// back to the deterministic text; it is nil when enrichment was not
// attempted or succeeded.
type Result struct {
	Text     string
	Enriched bool
	Err      error
}

// Builder produces window narratives. A Builder without a generator only
// renders the deterministic summary.
type Builder struct {
	gen     model.Generator
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Options tunes enrichment.
type Options struct {
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// NewBuilder returns a builder that enriches through gen when it is non-nil.
func NewBuilder(gen model.Generator, opts Options, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	b := &Builder{gen: gen, timeout: opts.Timeout, logger: logger}
	if gen != nil && opts.BreakerFailures > 0 {
		failures := opts.BreakerFailures
		b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "narrative-enrichment",
			Timeout: opts.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Enrichment breaker changed state",
					zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}
	return b
}

// Enabled reports whether the builder attempts enrichment.
func (b *Builder) Enabled() bool { return b.gen != nil }

// Build renders w. When enrichment fails for any reason the deterministic
// summary is returned unchanged.
func (b *Builder) Build(ctx context.Context, w *model.Window) Result {
	summary := Deterministic(w)
	if b.gen == nil {
		return Result{Text: summary}
	}

	text, err := b.enrich(ctx, Prompt(w, summary))
	if err != nil {
		b.logger.Warn("Narrative enrichment failed, using deterministic summary",
			zap.String("window_id", w.ID), zap.Error(err))
		return Result{Text: summary, Err: err}
	}
	return Result{Text: text, Enriched: true}
}

func (b *Builder) enrich(ctx context.Context, prompt string) (string, error) {
	call := func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		type reply struct {
			text string
			err  error
		}
		done := make(chan reply, 1)
		go func() {
			text, err := b.gen.Generate(ctx, prompt)
			done <- reply{text, err}
		}()

		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "text generation timed out")
		case r := <-done:
			if r.err != nil {
				return "", r.err
			}
			text := strings.TrimSpace(r.text)
			if text == "" {
				return "", ErrEmptyResponse
			}
			return text, nil
		}
	}

	if b.breaker == nil {
		out, err := call()
		if err != nil {
			return "", err
		}
		return out.(string), nil
	}
	out, err := b.breaker.Execute(call)
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
