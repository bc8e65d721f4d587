package quest

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/cache"
	"go.uber.org/zap"
)

const (
	// EventsChannel is the pub/sub channel progress events are published on.
	EventsChannel = "quest:events"

	progressKeyPrefix = "quest:progress:"
	playerKeyPrefix   = "quest:player:"
)

// ProgressKey is the cache hash holding an account's description lines, one field per quest id.
func ProgressKey(identity uuid.UUID) string { return progressKeyPrefix + identity.String() }

// PlayerKey is the cache key holding the name of a connected player.
func PlayerKey(identity uuid.UUID) string { return playerKeyPrefix + identity.String() }

type publishItem struct {
	ev  ProgressEvent
	ack chan struct{}
}

// Publisher maintains the progress read model in the cache and publishes every
// event, in order, from a single worker.
type Publisher struct {
	cache   cache.Cache
	pubsub  cache.PubSub
	timeout time.Duration
	events  chan publishItem
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	logger  *zap.Logger
}

// NewPublisher starts the worker. pubsub may be nil.
func NewPublisher(c cache.Cache, ps cache.PubSub, buffer int, logger *zap.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	p := &Publisher{
		cache:   c,
		pubsub:  ps,
		timeout: 5 * time.Second,
		events:  make(chan publishItem, buffer),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go p.run()
	return p
}

// Publish queues ev. It never blocks: when the queue is full the event is dropped.
func (p *Publisher) Publish(ev ProgressEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- publishItem{ev: ev}:
	default:
		p.logger.Warn("progress queue full, dropping event",
			zap.String("account", ev.Account.String()),
			zap.String("type", ev.Type),
			zap.Int("quest_id", ev.QuestID))
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for it := range p.events {
		if it.ack != nil {
			close(it.ack)
			continue
		}
		p.apply(it.ev)
	}
}

func (p *Publisher) apply(ev ProgressEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var err error
	field := strconv.Itoa(ev.QuestID)
	switch ev.Type {
	case EventJoined:
		err = p.cache.Set(ctx, PlayerKey(ev.Account), ev.Player, 0)
	case EventLeft:
		err = p.cache.Del(ctx, PlayerKey(ev.Account), ProgressKey(ev.Account))
	case EventFinished, EventCancelled, EventRemoved:
		err = p.cache.HDel(ctx, ProgressKey(ev.Account), field)
	default:
		err = p.cache.HSet(ctx, ProgressKey(ev.Account), field, ev.Description)
	}
	if err != nil {
		p.logger.Error("failed to update progress read model",
			zap.String("account", ev.Account.String()), zap.String("type", ev.Type), zap.Error(err))
	}

	if p.pubsub == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.pubsub.Publish(ctx, EventsChannel, string(data)); err != nil {
		p.logger.Error("failed to publish progress event", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Flush waits until every event published before the call has been applied.
func (p *Publisher) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil
	}
	select {
	case p.events <- publishItem{ack: ack}:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns the description lines of identity keyed by quest id.
func (p *Publisher) Progress(ctx context.Context, identity uuid.UUID) (map[int]string, error) {
	raw, err := p.cache.HGetAll(ctx, ProgressKey(identity))
	if err != nil {
		if cache.IsNotFound(err) {
			return map[int]string{}, nil
		}
		return nil, err
	}
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

// QuestProgress returns the description line of one quest of identity.
func (p *Publisher) QuestProgress(ctx context.Context, identity uuid.UUID, questID int) (string, bool, error) {
	line, err := p.cache.HGet(ctx, ProgressKey(identity), strconv.Itoa(questID))
	if err != nil {
		if cache.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return line, true, nil
}

// Player returns the name of identity and whether it is connected, as seen by
// the read model.
func (p *Publisher) Player(ctx context.Context, identity uuid.UUID) (string, bool, error) {
	online, err := p.cache.Exists(ctx, PlayerKey(identity))
	if err != nil || !online {
		return "", false, err
	}
	name, err := p.cache.Get(ctx, PlayerKey(identity))
	if err != nil {
		if cache.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return name, true, nil
}

// Subscribe streams the events published on EventsChannel, including those of
// other instances sharing the pub/sub backend. stop ends the stream.
func (p *Publisher) Subscribe(ctx context.Context) (events <-chan ProgressEvent, stop func(), err error) {
	if p.pubsub == nil {
		return nil, nil, ErrNoEvents
	}
	msgs, unsubscribe, err := p.pubsub.Subscribe(ctx, EventsChannel)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan ProgressEvent, 64)
	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(done)
			unsubscribe()
		})
	}
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev ProgressEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					p.logger.Warn("ignoring undecodable progress event", zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, stop, nil
}

// Close stops accepting events and waits for queued ones to be applied.
func (p *Publisher) Close(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()
	})
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
