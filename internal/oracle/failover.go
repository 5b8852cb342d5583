package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/diatomatlas/internal/config"
	"github.com/local/diatomatlas/internal/limiter"
	"github.com/local/diatomatlas/internal/metrics"
)

type engine struct {
	client Client
	model  string
}

// Adapter routes an inference to the primary engine and fails over to the
// secondary on rate limits, open breakers or transport errors. Schema
// validation failures are not failed over; the same document would produce
// the same prompt and the retry belongs to the caller.
type Adapter struct {
	primary   engine
	secondary engine
	breaker   limiter.Breaker
	timeout   time.Duration
}

func NewAdapter(cfg config.OracleConfig, breaker limiter.Breaker) (*Adapter, error) {
	prim, err := buildEngine(cfg, cfg.PrimaryEngine, true)
	if err != nil {
		return nil, err
	}
	sec, err := buildEngine(cfg, cfg.SecondaryEngine, false)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		primary:   prim,
		secondary: sec,
		breaker:   breaker,
		timeout:   cfg.RequestTimeout,
	}, nil
}

func buildEngine(cfg config.OracleConfig, name string, primary bool) (engine, error) {
	pick := func(pm config.ProviderModels) string {
		if primary {
			return pm.Primary
		}
		return pm.Secondary
	}
	switch name {
	case "openai":
		return engine{client: NewOpenAIClient(), model: pick(cfg.OpenAI)}, nil
	case "anthropic":
		return engine{client: NewAnthropicClient(), model: pick(cfg.Anthropic)}, nil
	default:
		return engine{}, fmt.Errorf("unknown oracle engine %q", name)
	}
}

func (a *Adapter) Infer(ctx context.Context, text string) (*Result, error) {
	raw, err := a.call(ctx, a.primary, text)
	if err != nil {
		log.Warn().Err(err).
			Str("provider", a.primary.client.Name()).
			Str("model", a.primary.model).
			Msg("primary oracle failed, trying secondary")
		raw, err = a.call(ctx, a.secondary, text)
		if err != nil {
			return nil, err
		}
	}
	return Decode(raw)
}

func (a *Adapter) call(ctx context.Context, e engine, text string) (string, error) {
	provider := e.client.Name()
	if a.breaker != nil && a.breaker.IsOpen(ctx, provider, e.model) {
		return "", fmt.Errorf("breaker open for %s/%s", provider, e.model)
	}
	if a.breaker != nil {
		release, ok := a.breaker.Allow(provider, e.model)
		if !ok {
			return "", fmt.Errorf("inflight limit reached for %s/%s", provider, e.model)
		}
		defer release()
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := e.client.Complete(callCtx, e.model, SystemPrompt, UserPrompt(text))
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.ObserveOracle(provider, e.model, "ok", elapsed)
		if a.breaker != nil {
			a.breaker.Close(ctx, provider, e.model)
		}
		return raw, nil
	case IsRateLimited(err):
		metrics.ObserveOracle(provider, e.model, "rate_limited", elapsed)
		if a.breaker != nil {
			a.breaker.Open(ctx, provider, e.model)
			metrics.BreakerOpened(provider, e.model)
		}
		return "", err
	default:
		metrics.ObserveOracle(provider, e.model, "error", elapsed)
		return "", err
	}
}
