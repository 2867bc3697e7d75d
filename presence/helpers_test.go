package presence

import (
	"io"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

// recorder is a Transport that keeps everything it is asked to send.
type recorder struct {
	broadcast []Message
	direct    map[string][]Message
}

func newRecorder() *recorder {
	return &recorder{direct: make(map[string][]Message)}
}

func (r *recorder) Broadcast(msg Message) {
	r.broadcast = append(r.broadcast, msg)
}

func (r *recorder) Send(peerID string, msg Message) {
	r.direct[peerID] = append(r.direct[peerID], msg)
}

func (r *recorder) kinds(kind Kind) []Message {
	var out []Message
	for _, msg := range r.broadcast {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.broadcast = nil
}

// outbox is a Sender that keeps uplink messages.
type outbox struct {
	sent []Message
	from []string
}

func (o *outbox) SendToAuthority(peerID string, msg Message) {
	o.from = append(o.from, peerID)
	o.sent = append(o.sent, msg)
}
