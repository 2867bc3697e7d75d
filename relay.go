package main

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Relay mirrors a broker's downlink to observers attached elsewhere.
type Relay interface {
	Publish(participant string, frame []byte)
	Store(participant string, setup []byte)
}

func channelName(participant string) string {
	return "presence-" + participant
}

func setupKey(participant string) string {
	return "presence-" + participant + ":setup"
}

type relayFrame struct {
	channel string
	payload []byte
}

// RedisRelay publishes frames to a redis channel per participant. Frames are
// handed to a single writer goroutine so a slow redis never stalls a tick;
// frames that do not fit in the queue are dropped. Setup snapshots are never
// dropped: the latest per participant is kept and written before any frame
// queued after it.
type RedisRelay struct {
	rdb    *redis.Client
	frames chan relayFrame
	log    logrus.FieldLogger

	mu         sync.Mutex
	setups     map[string][]byte
	setupReady chan struct{}
}

func NewRedisRelay(ctx context.Context, rdb *redis.Client, buffer int, log logrus.FieldLogger) *RedisRelay {
	relay := newRedisRelay(rdb, buffer, log)

	go relay.run(ctx)

	return relay
}

func newRedisRelay(rdb *redis.Client, buffer int, log logrus.FieldLogger) *RedisRelay {
	return &RedisRelay{
		rdb:        rdb,
		frames:     make(chan relayFrame, buffer),
		log:        log.WithField("component", "relay"),
		setups:     make(map[string][]byte),
		setupReady: make(chan struct{}, 1),
	}
}

func (r *RedisRelay) Publish(participant string, frame []byte) {
	select {
	case r.frames <- relayFrame{channel: channelName(participant), payload: frame}:
	default:
		r.log.WithField("participant", participant).Debug("Relay queue full, dropping frame")
	}
}

func (r *RedisRelay) Store(participant string, setup []byte) {
	r.mu.Lock()
	r.setups[participant] = setup
	r.mu.Unlock()

	select {
	case r.setupReady <- struct{}{}:
	default:
	}
}

func (r *RedisRelay) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.setupReady:
			r.flushSetups(ctx)
		case f := <-r.frames:
			r.flushSetups(ctx)
			if err := r.rdb.Publish(ctx, f.channel, f.payload).Err(); err != nil {
				r.log.WithError(err).WithField("channel", f.channel).Warn("Relay publish failed")
			}
		}
	}
}

func (r *RedisRelay) flushSetups(ctx context.Context) {
	r.mu.Lock()
	if len(r.setups) == 0 {
		r.mu.Unlock()
		return
	}
	pending := r.setups
	r.setups = make(map[string][]byte)
	r.mu.Unlock()

	for participant, setup := range pending {
		if err := r.rdb.Set(ctx, setupKey(participant), setup, 0).Err(); err != nil {
			r.log.WithError(err).WithField("participant", participant).Warn("Relay setup write failed")
		}
	}
}
