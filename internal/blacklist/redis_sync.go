package blacklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisBlacklistChannel = "proxywarden:blacklist:updates"
	redisBlacklistTimeout = 5 * time.Second
)

type redisSyncState struct {
	mu     sync.RWMutex
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	nodeID string
}

type blacklistSyncEvent struct {
	Origin    string `json:"origin"`
	Reason    string `json:"reason,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// EnableRedisSynchronization reloads the list whenever another instance
// publishes a change. Calling it twice is a no-op.
func (l *List) EnableRedisSynchronization(ctx context.Context, client *redis.Client) {
	if client == nil {
		log.Warn("Blacklist sync disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.sync.mu.Lock()
	if l.sync.client != nil {
		l.sync.mu.Unlock()
		return
	}

	syncCtx, cancel := context.WithCancel(ctx)
	l.sync.client = client
	l.sync.ctx = syncCtx
	l.sync.cancel = cancel
	l.sync.mu.Unlock()

	pubsub := client.Subscribe(syncCtx, redisBlacklistChannel)
	// wait for the subscription so no update published after this returns is missed
	if _, err := pubsub.Receive(syncCtx); err != nil {
		log.Warn("Blacklist sync: subscribe not confirmed", "error", err)
	}
	go l.subscribeToBlacklistUpdates(syncCtx, pubsub)
}

// StopRedisSynchronization ends the subscription started by
// EnableRedisSynchronization.
func (l *List) StopRedisSynchronization() {
	l.sync.mu.Lock()
	defer l.sync.mu.Unlock()
	if l.sync.cancel != nil {
		l.sync.cancel()
	}
	l.sync.client = nil
	l.sync.ctx = nil
	l.sync.cancel = nil
}

func (l *List) subscribeToBlacklistUpdates(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Blacklist sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var event blacklistSyncEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Error("Blacklist sync: invalid payload", "error", err)
			continue
		}

		if event.Origin == l.sync.nodeID {
			continue
		}

		if err := l.LoadCache(ctx); err != nil {
			log.Error("Blacklist sync: cache reload failed", "error", err)
			continue
		}
		log.Debug("Blacklist sync: cache reloaded", "reason", event.Reason, "origin", event.Origin)
	}
}

func (l *List) broadcastRefreshUpdate(ctx context.Context, reason string) error {
	client, baseCtx := l.redisClient()
	if client == nil {
		return nil
	}

	event := blacklistSyncEvent{
		Origin:    l.sync.nodeID,
		Reason:    reason,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	merged := mergedContext(ctx, baseCtx)
	opCtx, cancel := redisTimeoutCtx(merged)
	defer cancel()

	return client.Publish(opCtx, redisBlacklistChannel, payload).Err()
}

func (l *List) redisClient() (*redis.Client, context.Context) {
	l.sync.mu.RLock()
	defer l.sync.mu.RUnlock()
	return l.sync.client, l.sync.ctx
}

func generateBlacklistSyncNodeID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

func mergedContext(ctx context.Context, fallback context.Context) context.Context {
	switch {
	case ctx != nil && ctx.Err() == nil:
		return ctx
	case fallback != nil && fallback.Err() == nil:
		return fallback
	default:
		return context.Background()
	}
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline && time.Until(deadline) <= redisBlacklistTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisBlacklistTimeout)
}
