package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stopro/ai-taskqueue/internal/models"
	redisq "github.com/stopro/ai-taskqueue/internal/redis"
)

// Responder answers liveness pings on behalf of a worker process.
type Responder struct {
	worker models.Worker
	rdb    *redis.Client
	log    *zap.Logger
}

func NewResponder(worker models.Worker, rdb *redis.Client, log *zap.Logger) *Responder {
	return &Responder{worker: worker, rdb: rdb, log: log}
}

// Listen subscribes to the control channel and returns a function that
// serves pings until ctx is cancelled. Pings sent after Listen returns are
// answered.
func (r *Responder) Listen(ctx context.Context) (serve func() error, err error) {
	sub, err := redisq.SubscribeControl(ctx, r.rdb)
	if err != nil {
		return nil, err
	}

	return func() error {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				if err := redisq.ReplyPing(ctx, r.rdb, msg.Payload, r.worker); err != nil {
					r.log.Warn("failed to answer ping", zap.Error(err))
				}
			}
		}
	}, nil
}
