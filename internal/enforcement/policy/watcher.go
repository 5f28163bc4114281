package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/casbin/casbin/v2/persist"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultWatchChannel = "quotaguard:enforcement:policy"

	publishTimeout = 2 * time.Second
	closeTimeout   = time.Second
)

// Watcher propagates policy changes between processes sharing the casbin
// table. A local change is published on a Redis channel; every other
// instance reloads its in-memory policy when the message arrives.
type Watcher struct {
	client   *redis.Client
	channel  string
	instance string
	log      *zap.Logger

	mu       sync.Mutex
	callback func(string)
	pubsub   *redis.PubSub
	done     chan struct{}
}

func NewWatcher(client *redis.Client, channel string, log *zap.Logger) *Watcher {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultWatchChannel
	}
	return &Watcher{
		client:   client,
		channel:  channel,
		instance: uuid.NewString(),
		log:      log.Named("enforcement.watcher"),
	}
}

func (w *Watcher) SetUpdateCallback(fn func(string)) error {
	w.mu.Lock()
	w.callback = fn
	w.mu.Unlock()
	return nil
}

// Update announces a local change. The change is already persisted when this
// runs, so a failed publish is logged and not returned; peers pick it up on
// their periodic reload.
func (w *Watcher) Update() error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := w.client.Publish(ctx, w.channel, w.instance).Err(); err != nil {
		w.log.Warn("policy change not published", zap.String("channel", w.channel), zap.Error(err))
	}
	return nil
}

// Start subscribes and returns once Redis confirmed the subscription.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pubsub != nil {
		return nil
	}

	pubsub := w.client.Subscribe(ctx, w.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", w.channel, err)
	}
	w.pubsub = pubsub
	w.done = make(chan struct{})
	go w.listen(pubsub.Channel(), w.done)
	return nil
}

func (w *Watcher) listen(messages <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		if msg.Payload == w.instance {
			continue
		}
		w.mu.Lock()
		fn := w.callback
		w.mu.Unlock()
		if fn != nil {
			fn(msg.Payload)
		}
	}
}

func (w *Watcher) Close() {
	w.mu.Lock()
	pubsub, done := w.pubsub, w.done
	w.pubsub, w.done = nil, nil
	w.mu.Unlock()
	if pubsub == nil {
		return
	}
	_ = pubsub.Close()
	select {
	case <-done:
	case <-time.After(closeTimeout):
	}
}

var _ persist.Watcher = (*Watcher)(nil)
