package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"proxywarden/internal/support"
)

const (
	CycleLeaseKey   = "proxywarden:cycle"
	DefaultLeaseTTL = 30 * time.Second
)

var ErrLeaseHeld = errors.New("runtime: cycle lease is held by another instance")

// The value check keeps an instance whose lease already expired from
// extending or deleting the lease a newer holder took over.
var (
	renewLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Lease is one instance's hold on a redis key. It is renewed in the
// background until Release.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	releaseMu sync.Mutex
	released  bool
}

// AcquireCycleLease takes the cross-instance refresh cycle lease.
func AcquireCycleLease(ctx context.Context, client *redis.Client, ttl time.Duration) (*Lease, error) {
	return AcquireLease(ctx, client, CycleLeaseKey, ttl)
}

func AcquireLease(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lease, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	token := support.NewRunToken()
	acquired, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrLeaseHeld
	}

	keepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lease := &Lease{
		client: client,
		key:    key,
		token:  token,
		ttl:    ttl,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go lease.keepAlive(keepCtx, ttl/3)

	return lease, nil
}

func (l *Lease) Token() string {
	return l.token
}

func (l *Lease) keepAlive(ctx context.Context, interval time.Duration) {
	defer close(l.done)
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := renewLeaseScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("Failed to renew lease", "key", l.key, "error", err)
				continue
			}
			if renewed == 0 {
				log.Warn("Lease lost before release", "key", l.key)
				return
			}
		}
	}
}

// Release stops the renewal and deletes the key if this lease still owns it.
// Releasing twice is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	l.releaseMu.Lock()
	defer l.releaseMu.Unlock()
	if l.released {
		return nil
	}
	l.released = true

	l.cancel()
	<-l.done

	if ctx == nil {
		ctx = context.Background()
	}
	return releaseLeaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// CurrentLeaseHolder returns the token holding key, or "" when it is free.
func CurrentLeaseHolder(ctx context.Context, client *redis.Client, key string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	holder, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}
