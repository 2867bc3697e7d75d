package main

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/james226/presence-api/presence"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func testConfig() Config {
	return Config{
		Origin:       "*",
		TickRate:     100,
		IdleTimeout:  time.Minute,
		ClientBuffer: 32,
		InitialMode:  presence.PointCloud,
		KinectWidth:  640,
		KinectHeight: 576,
		TokenTTL:     time.Hour,
	}
}

type fakeRelay struct {
	mu        sync.Mutex
	published [][]byte
	stored    map[string][]byte
	ops       []string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{stored: make(map[string][]byte)}
}

func (r *fakeRelay) Publish(participant string, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, frame)
	r.ops = append(r.ops, "publish")
}

func (r *fakeRelay) Store(participant string, setup []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[participant] = setup
	r.ops = append(r.ops, "store")
}

func (r *fakeRelay) setup(t *testing.T, participant string) presence.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var msg presence.Message
	if err := json.Unmarshal(r.stored[participant], &msg); err != nil {
		t.Fatalf("failed to decode stored setup: %v", err)
	}
	return msg
}

func decode(t *testing.T, frame []byte) presence.Message {
	t.Helper()
	var msg presence.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Fatalf("failed to decode frame %s: %v", frame, err)
	}
	return msg
}

func next(t *testing.T, c *client) presence.Message {
	t.Helper()
	select {
	case frame, ok := <-c.send:
		if !ok {
			t.Fatalf("client channel closed")
		}
		return decode(t, frame)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return presence.Message{}
}
