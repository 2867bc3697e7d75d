package presence

import (
	"github.com/sirupsen/logrus"
)

type Role uint8

const (
	Authority Role = iota
	Observer
)

func (r Role) String() string {
	if r == Authority {
		return "authority"
	}
	return "observer"
}

// Transport is what an authority session needs from the connection layer.
type Transport interface {
	Broadcaster
	Send(peerID string, msg Message)
}

type Config struct {
	Mode         Mode
	KinectWidth  int
	KinectHeight int
	// Representing is the peer whose device pose feeds the client fields.
	Representing string
}

// Session replicates one participant. An authority session owns the State and
// is ticked by its host; an observer session owns a Mirror and applies
// downlink messages as they arrive.
type Session struct {
	role Role
	log  logrus.FieldLogger

	state     *State
	transport Transport
	uplink    *UplinkReader
	downlink  *Downlink

	mirror *Mirror
	writer *UplinkWriter
	// representing is set on the observer whose device feeds the uplink.
	representing bool

	tick uint64
}

func NewAuthority(cfg Config, transport Transport, log logrus.FieldLogger) *Session {
	log = log.WithField("role", Authority.String())
	return &Session{
		role:      Authority,
		log:       log,
		state:     NewState(cfg.Mode, cfg.KinectWidth, cfg.KinectHeight),
		transport: transport,
		uplink:    NewUplinkReader(cfg.Representing, log),
		downlink:  NewDownlink(transport, NewModeMachine(cfg.Mode)),
	}
}

// NewObserver creates the mirror side for peerID. When representing is true
// every Tick sends the local client pose to the authority through sender.
func NewObserver(peerID string, representing bool, sender Sender, log logrus.FieldLogger) *Session {
	return &Session{
		role:         Observer,
		log:          log.WithFields(logrus.Fields{"role": Observer.String(), "peer": peerID}),
		mirror:       NewMirror(),
		writer:       NewUplinkWriter(peerID, sender),
		representing: representing,
	}
}

func (s *Session) Role() Role {
	return s.role
}

// State returns the authority's record. It is nil on observers.
func (s *Session) State() *State {
	return s.state
}

// Mirror returns the observer's copy. It is nil on the authority.
func (s *Session) Mirror() *Mirror {
	return s.mirror
}

func (s *Session) Ticks() uint64 {
	return s.tick
}

// Join sends the session setup to a newly connected observer.
func (s *Session) Join(peerID string) {
	if s.role != Authority {
		return
	}
	s.transport.Send(peerID, Message{
		Kind:         Setup,
		Mode:         s.downlink.modes.Current(),
		KinectWidth:  s.state.KinectWidth,
		KinectHeight: s.state.KinectHeight,
	})
	s.log.WithField("peer", peerID).Info("Observer joined")
}

func (s *Session) Leave(peerID string) {
	if s.role != Authority {
		return
	}
	s.uplink.Forget(peerID)
	s.log.WithField("peer", peerID).Info("Observer left")
}

// Represent hands the client pose fields to another peer.
func (s *Session) Represent(peerID string) {
	if s.role == Authority {
		s.uplink.Represent(peerID)
	}
}

func (s *Session) Representing() string {
	if s.role != Authority {
		return ""
	}
	return s.uplink.Representing()
}

// Receive handles an incoming message. The authority queues uplinks for the
// next tick; observers apply downlinks immediately.
func (s *Session) Receive(peerID string, msg Message) {
	switch s.role {
	case Authority:
		if msg.Kind != UplinkPose {
			s.log.WithFields(logrus.Fields{"peer": peerID, "kind": msg.Kind}).Debug("Dropping non-uplink message")
			return
		}
		s.uplink.Receive(peerID, msg)
	case Observer:
		if !s.mirror.Apply(msg) {
			s.log.WithField("kind", msg.Kind).Debug("Ignoring unexpected downlink message")
		}
	}
}

// Tick runs one replication step. On the authority it applies pending uplinks
// and then broadcasts; on the representing observer it sends the local pose.
func (s *Session) Tick() {
	s.tick++
	switch s.role {
	case Authority:
		s.uplink.Apply(s.state)
		if s.downlink.Tick(s.state) {
			s.log.WithFields(logrus.Fields{"mode": s.state.Mode, "tick": s.tick}).Info("Mode changed")
		}
	case Observer:
		if s.representing {
			s.writer.Send(s.mirror.Snapshot().Client)
		}
	}
}
