package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/james226/presence-api/presence"
	"github.com/sirupsen/logrus"
)

const writeWait = 10 * time.Second

// Websocket serves a peer connection: downlink frames out, uplink pose in.
// A connection presenting a valid token for the participant becomes its
// representing peer.
type Websocket struct {
	Id       string
	brokers  *registry
	tokens   *TokenIssuer
	upgrader websocket.Upgrader
	buffer   int
	log      logrus.FieldLogger
}

func NewWebsocket(id string, brokers *registry, tokens *TokenIssuer, cfg Config, log logrus.FieldLogger) *Websocket {
	return &Websocket{
		Id:      id,
		brokers: brokers,
		tokens:  tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.Origin),
		},
		buffer: cfg.ClientBuffer,
		log:    log.WithField("participant", id),
	}
}

func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed == "*" || origin == allowed
	}
}

func (c *Websocket) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	representing := false
	if token := req.URL.Query().Get("token"); token != "" {
		participant, err := c.tokens.Parse(token)
		if err != nil || participant != c.Id {
			http.Error(rw, ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}
		representing = true
	}

	ws, err := c.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		c.log.WithError(err).Warn("Failed to upgrade connection")
		return
	}
	defer ws.Close()

	cl := newClient(representing, c.buffer)
	broker, err := c.brokers.attach(c.Id, cl)
	if err != nil {
		ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()), time.Now().Add(writeWait))
		return
	}
	defer broker.Unregister(cl)

	log := c.log.WithFields(logrus.Fields{"client": cl.id, "representing": representing})
	closed := make(chan struct{})

	go func() {
		defer close(closed)
		for {
			_, p, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.WithError(err).Debug("Websocket read error")
				}
				return
			}

			msg, err := decodeUplink(p)
			if err != nil {
				log.WithError(err).Debug("Ignoring message")
				continue
			}
			broker.Uplink(cl.id, msg)
		}
	}()

	c.MessageLoop(ws, cl, closed, log)

	log.Info("Closing client")
}

func (c *Websocket) MessageLoop(ws *websocket.Conn, cl *client, closed <-chan struct{}, log logrus.FieldLogger) {
	for {
		select {
		case m, ok := <-cl.send:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, m); err != nil {
				log.WithError(err).Debug("Websocket write error")
				return
			}

		case <-closed:
			return
		}
	}
}

func decodeUplink(p []byte) (presence.Message, error) {
	var msg presence.Message
	if err := json.Unmarshal(p, &msg); err != nil {
		return msg, err
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	if msg.Kind != presence.UplinkPose {
		return msg, errors.New("only uplink pose messages are accepted from peers")
	}
	return msg, nil
}
