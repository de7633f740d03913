package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stopro/ai-taskqueue/internal/models"
)

// PingRequest is broadcast on the control channel.
type PingRequest struct {
	ReplyTo string    `json:"reply_to"`
	SentAt  time.Time `json:"sent_at"`
}

// PingReply is what a live worker publishes back.
type PingReply struct {
	WorkerID string    `json:"worker_id"`
	Name     string    `json:"name"`
	At       time.Time `json:"at"`
}

// SubscribeControl subscribes to the control channel and waits for the
// subscription to be confirmed, so no ping sent afterwards is missed.
func SubscribeControl(ctx context.Context, rdb *redis.Client) (*redis.PubSub, error) {
	sub := rdb.Subscribe(ctx, controlChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to control channel: %w", err)
	}
	return sub, nil
}

// ReplyPing answers a ping request received on the control channel.
func ReplyPing(ctx context.Context, rdb *redis.Client, payload string, worker models.Worker) error {
	var req PingRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return fmt.Errorf("invalid ping request: %w", err)
	}
	if req.ReplyTo == "" {
		return fmt.Errorf("ping request without reply channel")
	}

	data, err := json.Marshal(PingReply{
		WorkerID: worker.ID,
		Name:     worker.Name(),
		At:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, req.ReplyTo, data).Err()
}

// Ping broadcasts a ping and collects replies until wait elapses. With
// firstOnly it returns as soon as one worker answered. No subscriber on the
// control channel means no reply can come, so it returns immediately.
func Ping(ctx context.Context, rdb *redis.Client, wait time.Duration, firstOnly bool) ([]PingReply, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	reply := replyChannel(uuid.New().String())
	sub := rdb.Subscribe(ctx, reply)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply channel: %w", err)
	}

	req, err := json.Marshal(PingRequest{ReplyTo: reply, SentAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	listeners, err := rdb.Publish(ctx, controlChannel, req).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to publish ping: %w", err)
	}
	if listeners == 0 {
		return nil, nil
	}

	var replies []PingReply
	ch := sub.Channel()
	for int64(len(replies)) < listeners {
		select {
		case <-ctx.Done():
			return replies, nil
		case msg, ok := <-ch:
			if !ok {
				return replies, nil
			}
			var r PingReply
			if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
				continue
			}
			replies = append(replies, r)
			if firstOnly {
				return replies, nil
			}
		}
	}
	return replies, nil
}
