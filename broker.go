package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/james226/presence-api/presence"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

var errBrokerClosed = errors.New("broker closed")

type client struct {
	id           string
	send         chan []byte
	representing bool
}

func newClient(representing bool, buffer int) *client {
	return &client{
		id:           ksuid.New().String(),
		send:         make(chan []byte, buffer),
		representing: representing,
	}
}

type uplink struct {
	clientId string
	msg      presence.Message
}

// Broker hosts the authority session for one participant. Every mutation of
// the session happens on the listen goroutine.
type Broker struct {
	Id       string
	Notifier chan Input

	newClients     chan *client
	closingClients chan *client
	uplinks        chan uplink
	clients        map[string]*client

	session    *presence.Session
	relay      Relay
	ticks      <-chan time.Time
	stop       func()
	idle       time.Duration
	emptySince time.Time

	log     logrus.FieldLogger
	onClose func()
	done    chan struct{}
}

func NewBroker(id string, cfg Config, relay Relay, log logrus.FieldLogger, onClose func()) *Broker {
	ticker := time.NewTicker(cfg.TickInterval())
	broker := newBroker(id, cfg, relay, log, ticker.C, onClose)
	broker.stop = ticker.Stop

	go broker.listen()

	return broker
}

func newBroker(id string, cfg Config, relay Relay, log logrus.FieldLogger, ticks <-chan time.Time, onClose func()) *Broker {
	broker := &Broker{
		Id:             id,
		Notifier:       make(chan Input),
		newClients:     make(chan *client),
		closingClients: make(chan *client),
		uplinks:        make(chan uplink, cfg.ClientBuffer),
		clients:        make(map[string]*client),
		relay:          relay,
		ticks:          ticks,
		stop:           func() {},
		idle:           cfg.IdleTimeout,
		log:            log.WithField("participant", id),
		onClose:        onClose,
		done:           make(chan struct{}),
	}
	broker.session = presence.NewAuthority(presence.Config{
		Mode:         cfg.InitialMode,
		KinectWidth:  cfg.KinectWidth,
		KinectHeight: cfg.KinectHeight,
	}, broker, broker.log)
	return broker
}

func (broker *Broker) Register(c *client) error {
	select {
	case broker.newClients <- c:
		return nil
	case <-broker.done:
		return errBrokerClosed
	}
}

func (broker *Broker) Unregister(c *client) {
	select {
	case broker.closingClients <- c:
	case <-broker.done:
	}
}

// Uplink queues a message from a connected client for the next tick.
func (broker *Broker) Uplink(clientId string, msg presence.Message) {
	select {
	case broker.uplinks <- uplink{clientId: clientId, msg: msg}:
	case <-broker.done:
	default:
		broker.log.WithField("client", clientId).Debug("Uplink queue full, dropping report")
	}
}

func (broker *Broker) Update(in Input) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	select {
	case broker.Notifier <- in:
		return nil
	case <-broker.done:
		return errBrokerClosed
	}
}

func (broker *Broker) Done() <-chan struct{} {
	return broker.done
}

func (broker *Broker) listen() {
	broker.storeSetup(broker.session.State().Mode)

	for {
		select {
		case c := <-broker.newClients:
			broker.clients[c.id] = c
			if c.representing {
				broker.session.Represent(c.id)
			}
			broker.session.Join(c.id)
			broker.log.WithField("client", c.id).Infof("Client added. %d registered clients", len(broker.clients))

		case c := <-broker.closingClients:
			if _, ok := broker.clients[c.id]; !ok {
				continue
			}
			delete(broker.clients, c.id)
			close(c.send)
			broker.session.Leave(c.id)
			if broker.session.Representing() == c.id {
				broker.session.Represent("")
			}
			broker.log.WithField("client", c.id).Infof("Removed client. %d registered clients", len(broker.clients))

		case u := <-broker.uplinks:
			broker.session.Receive(u.clientId, u.msg)

		case in := <-broker.Notifier:
			in.Apply(broker.session.State())

		case now := <-broker.ticks:
			broker.session.Tick()

			if len(broker.clients) > 0 {
				broker.emptySince = time.Time{}
				continue
			}
			if broker.emptySince.IsZero() {
				broker.emptySince = now
				continue
			}
			if now.Sub(broker.emptySince) >= broker.idle {
				broker.log.Info("Closing idle broker")
				broker.stop()
				close(broker.done)
				broker.onClose()
				return
			}
		}
	}
}

// Broadcast encodes msg once and queues it for every client. A client whose
// buffer is full misses the frame.
func (broker *Broker) Broadcast(msg presence.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		broker.log.WithError(err).WithField("kind", msg.Kind).Error("Failed to encode message")
		return
	}
	for _, c := range broker.clients {
		broker.deliver(c, frame)
	}
	if broker.relay == nil {
		return
	}
	// the snapshot must land before the frame announcing the change
	if msg.Kind == presence.DownlinkModeChanged {
		broker.storeSetup(msg.Mode)
	}
	broker.relay.Publish(broker.Id, frame)
}

func (broker *Broker) Send(peerId string, msg presence.Message) {
	c, ok := broker.clients[peerId]
	if !ok {
		return
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		broker.log.WithError(err).WithField("kind", msg.Kind).Error("Failed to encode message")
		return
	}
	broker.deliver(c, frame)
}

func (broker *Broker) deliver(c *client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		broker.log.WithField("client", c.id).Debug("Client buffer full, dropping frame")
	}
}

// storeSetup keeps the relay's copy of the setup message current so observers
// following through the relay can start mirroring.
func (broker *Broker) storeSetup(mode presence.Mode) {
	if broker.relay == nil {
		return
	}
	state := broker.session.State()
	frame, err := json.Marshal(presence.Message{
		Kind:         presence.Setup,
		Mode:         mode,
		KinectWidth:  state.KinectWidth,
		KinectHeight: state.KinectHeight,
	})
	if err != nil {
		broker.log.WithError(err).Error("Failed to encode setup")
		return
	}
	broker.relay.Store(broker.Id, frame)
}

// ServeEvents streams downlink frames to a read-only observer as server-sent
// events.
func ServeEvents(rw http.ResponseWriter, req *http.Request, brokers *registry, id string, buffer int) {
	flusher, ok := rw.(http.Flusher)

	if !ok {
		http.Error(rw, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	c := newClient(false, buffer)
	broker, err := brokers.attach(id, c)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer broker.Unregister(c)

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")

	notify := req.Context().Done()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			fmt.Fprintf(rw, "data: %s\n\n", frame)
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
