package presence

import (
	"github.com/sirupsen/logrus"
)

// Sender delivers a message from a peer to the authority. Delivery is
// fire-and-forget.
type Sender interface {
	SendToAuthority(peerID string, msg Message)
}

// UplinkWriter is the peer half of the uplink: it stamps each report with the
// next sequence number.
type UplinkWriter struct {
	peerID string
	sender Sender
	seq    uint64
}

func NewUplinkWriter(peerID string, sender Sender) *UplinkWriter {
	return &UplinkWriter{peerID: peerID, sender: sender}
}

func (w *UplinkWriter) Send(pose ClientPose) {
	w.seq++
	p := pose
	w.sender.SendToAuthority(w.peerID, Message{
		Kind:   UplinkPose,
		Seq:    w.seq,
		Client: &p,
	})
}

type uplinkReport struct {
	peerID string
	msg    Message
}

// UplinkReader is the authority half. Reports are queued as they arrive and
// applied to the state on the next tick.
type UplinkReader struct {
	representing string
	pending      []uplinkReport
	lastSeq      map[string]uint64
	log          logrus.FieldLogger
}

func NewUplinkReader(representing string, log logrus.FieldLogger) *UplinkReader {
	return &UplinkReader{
		representing: representing,
		lastSeq:      make(map[string]uint64),
		log:          log,
	}
}

// Represent changes which peer's reports are allowed to write the client pose.
func (r *UplinkReader) Represent(peerID string) {
	r.representing = peerID
}

func (r *UplinkReader) Representing() string {
	return r.representing
}

func (r *UplinkReader) Receive(peerID string, msg Message) {
	r.pending = append(r.pending, uplinkReport{peerID: peerID, msg: msg})
}

// Forget drops queued reports and sequence tracking for a departed peer.
func (r *UplinkReader) Forget(peerID string) {
	delete(r.lastSeq, peerID)
	kept := r.pending[:0]
	for _, report := range r.pending {
		if report.peerID != peerID {
			kept = append(kept, report)
		}
	}
	r.pending = kept
}

// Apply writes queued reports into state in arrival order, skipping any report
// that is older than one already applied for the same peer. It returns the
// number of reports applied.
func (r *UplinkReader) Apply(state *State) int {
	applied := 0
	for _, report := range r.pending {
		if report.peerID != r.representing {
			r.log.WithField("peer", report.peerID).Debug("Ignoring uplink from non-representing peer")
			continue
		}
		if report.msg.Client == nil {
			continue
		}
		if seq := report.msg.Seq; seq != 0 {
			if seq <= r.lastSeq[report.peerID] {
				continue
			}
			r.lastSeq[report.peerID] = seq
		}
		state.Client = *report.msg.Client
		applied++
	}
	r.pending = r.pending[:0]
	return applied
}
