package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"training-service/pkg/response"
)

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
	Close() error
}

type Options struct {
	TTL           time.Duration
	Wait          time.Duration
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 50 * time.Millisecond
	}
	return o
}

// AcquireAll takes every key in sorted order so two callers with overlapping
// key sets cannot deadlock. On timeout it releases what it holds and returns
// response.ErrLocked.
func AcquireAll(ctx context.Context, l Locker, opts Options, keys ...string) (func(), error) {
	const op = "lock.AcquireAll"

	opts = opts.withDefaults()

	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	type held struct{ key, token string }
	acquired := make([]held, 0, len(keys))

	release := func() {
		// освобождаем в обратном порядке
		for i := len(acquired) - 1; i >= 0; i-- {
			_ = l.Unlock(context.WithoutCancel(ctx), acquired[i].key, acquired[i].token)
		}
	}

	deadline := time.Now().Add(opts.Wait)

	for _, key := range keys {
		for {
			token, ok, err := l.TryLock(ctx, key, opts.TTL)
			if err != nil {
				release()
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if ok {
				acquired = append(acquired, held{key: key, token: token})
				break
			}

			if !time.Now().Add(opts.RetryInterval).Before(deadline) {
				release()
				return nil, fmt.Errorf("%s: %s: %w", op, key, response.ErrLocked)
			}

			select {
			case <-ctx.Done():
				release()
				return nil, fmt.Errorf("%s: %w", op, ctx.Err())
			case <-time.After(opts.RetryInterval):
			}
		}
	}

	return release, nil
}

// LocalLock is a process-local Locker for single-instance deployments.
type LocalLock struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]localEntry), clock: time.Now}
}

func (l *LocalLock) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}

	return token, true, nil
}

func (l *LocalLock) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.held[key]; ok && e.token == token {
		delete(l.held, key)
	}

	return nil
}

func (l *LocalLock) Close() error {
	return nil
}
