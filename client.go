package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Follower streams a participant's downlink from the redis relay, so an
// observer can attach to any API instance regardless of which one hosts the
// authority.
type Follower struct {
	Id        string
	frameChan chan []byte
	notify    <-chan struct{}
	log       logrus.FieldLogger
}

func NewFollower(id string, log logrus.FieldLogger) *Follower {
	return &Follower{
		Id:  id,
		log: log.WithField("participant", id),
	}
}

func (c *Follower) ServeHTTP(rw http.ResponseWriter, req *http.Request, rdb *redis.Client) {
	flusher, ok := rw.(http.Flusher)

	if !ok {
		http.Error(rw, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	channel := rdb.Subscribe(ctx, channelName(c.Id))

	defer channel.Close()

	// subscribe before reading the setup so a mode change published in
	// between is still delivered
	if _, err := channel.Receive(ctx); err != nil {
		c.log.WithError(err).Warn("Failed to subscribe to relay")
		http.Error(rw, "Relay unavailable", http.StatusBadGateway)
		return
	}

	setup, err := rdb.Get(ctx, setupKey(c.Id)).Bytes()
	if errors.Is(err, redis.Nil) {
		http.Error(rw, "Unknown participant", http.StatusNotFound)
		return
	}
	if err != nil {
		c.log.WithError(err).Warn("Failed to read setup from relay")
		http.Error(rw, "Relay unavailable", http.StatusBadGateway)
		return
	}

	c.notify = ctx.Done()
	c.frameChan = make(chan []byte)

	go func() {
		ch := channel.Channel()

		for msg := range ch {
			select {
			case c.frameChan <- []byte(msg.Payload):
			case <-c.notify:
				return
			}
		}
	}()

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(rw, "data: %s\n\n", setup)
	flusher.Flush()

	c.MessageLoop(rw, flusher)

	c.log.Info("Closing follower")
}

func (c *Follower) MessageLoop(rw http.ResponseWriter, flusher http.Flusher) {
	for {
		select {
		case m := <-c.frameChan:
			fmt.Fprintf(rw, "data: %s\n\n", m)
			flusher.Flush()

		case <-c.notify:
			return
		}
	}
}
