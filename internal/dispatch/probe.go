package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/metrics"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
)

// Probe checks that at least one worker is reachable through the broker.
type Probe struct {
	rdb     *redis.Client
	timeout time.Duration
	log     *zap.Logger
}

func NewProbe(rdb *redis.Client, timeout time.Duration, log *zap.Logger) *Probe {
	return &Probe{rdb: rdb, timeout: timeout, log: log}
}

// Ping returns true when any worker replied within the timeout. Errors and
// timeouts yield false; the call never outlives the timeout.
func (p *Probe) Ping(ctx context.Context) bool {
	replies := p.collect(ctx, true)
	ok := len(replies) > 0
	if ok {
		metrics.PingsTotal.WithLabelValues("connected").Inc()
	} else {
		metrics.PingsTotal.WithLabelValues("disconnected").Inc()
	}
	return ok
}

// Replies lists every worker that answered within the timeout.
func (p *Probe) Replies(ctx context.Context) []redisq.PingReply {
	return p.collect(ctx, false)
}

func (p *Probe) collect(ctx context.Context, firstOnly bool) []redisq.PingReply {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan []redisq.PingReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("liveness ping panicked", zap.Any("panic", r))
				done <- nil
			}
		}()
		replies, err := redisq.Ping(ctx, p.rdb, p.timeout, firstOnly)
		if err != nil {
			p.log.Debug("liveness ping failed", zap.Error(err))
		}
		done <- replies
	}()

	// The client may not honour ctx while dialing; the timer is the bound.
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case replies := <-done:
		return replies
	case <-ctx.Done():
		return nil
	case <-timer.C:
		return nil
	}
}
