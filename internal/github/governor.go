package github

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/metrics"
)

// PoolCore is the quota pool every REST call in this package draws from.
const PoolCore = "core"

// RateLimitWindow is one quota pool as reported by /rate_limit.
type RateLimitWindow struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	Used      int   `json:"used"`
}

// RateLimitStatus is the /rate_limit payload.
type RateLimitStatus struct {
	Rate      RateLimitWindow            `json:"rate"`
	Resources map[string]RateLimitWindow `json:"resources"`
}

// StatusSource reports current quota usage.
type StatusSource interface {
	RateLimit(ctx context.Context) (*RateLimitStatus, error)
}

// ComputeWait returns how long to wait before any monitored pool is back above
// a quarter of its limit. An empty pools list monitors the overall rate and
// every resource. Pools with a zero limit are not monitored.
func ComputeWait(status RateLimitStatus, pools []string, now time.Time) time.Duration {
	var wait time.Duration
	consider := func(w RateLimitWindow) {
		if w.Limit <= 0 || w.Remaining*4 >= w.Limit {
			return
		}
		if d := time.Unix(w.Reset, 0).Sub(now); d > wait {
			wait = d
		}
	}

	if len(pools) == 0 {
		consider(status.Rate)
		for _, w := range status.Resources {
			consider(w)
		}
		return wait
	}
	for _, name := range pools {
		if w, ok := status.Resources[name]; ok {
			consider(w)
		}
	}
	return wait
}

// Governor blocks callers while GitHub quota is low.
type Governor struct {
	source StatusSource
	clock  Clock
	logger *zap.Logger
}

// NewGovernor builds a governor reading quota from source.
func NewGovernor(source StatusSource, clk Clock, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{source: source, clock: clk, logger: logger.Named("governor")}
}

// AwaitCapacity checks quota and sleeps until every monitored pool is above
// the threshold. A failed status call is logged and treated as no wait.
func (g *Governor) AwaitCapacity(ctx context.Context, pools ...string) error {
	for {
		status, err := g.source.RateLimit(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("await capacity: %w", ctx.Err())
			}
			g.logger.Warn("quota status unavailable", zap.Error(err))
			return nil
		}
		wait := ComputeWait(*status, pools, g.clock.Now())
		if wait <= 0 {
			return nil
		}
		g.logger.Info("waiting for quota reset",
			zap.Duration("wait", wait),
			zap.Strings("pools", pools),
		)
		metrics.ObserveQuotaWait(wait)
		if err := g.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("await capacity: %w", err)
		}
	}
}
