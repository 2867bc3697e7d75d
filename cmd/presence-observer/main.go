// Command presence-observer connects to a presence API as an observer and
// keeps a local mirror of one participant. With --token it also acts as the
// participant's representing peer and streams a fixed device pose upstream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/james226/presence-api/presence"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

type options struct {
	server      string
	participant string
	token       string
	rate        int
	report      time.Duration
	headset     []float32
	hand        []float32
	verbose     bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options

	flagSet := pflag.NewFlagSet("presence-observer", pflag.ContinueOnError)
	flagSet.StringVar(&opts.server, "server", "ws://localhost:3000", "presence API base URL")
	flagSet.StringVar(&opts.participant, "participant", "", "participant id to mirror")
	flagSet.StringVar(&opts.token, "token", "", "representing-peer token; enables the uplink")
	flagSet.IntVar(&opts.rate, "rate", 30, "uplink ticks per second")
	flagSet.DurationVar(&opts.report, "report", 2*time.Second, "interval between mirror reports")
	flagSet.Float32SliceVar(&opts.headset, "headset", []float32{0, 1.6, 0}, "headset position x,y,z")
	flagSet.Float32SliceVar(&opts.hand, "hand", []float32{0.3, 1.2, 0.2}, "right hand position x,y,z")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.participant == "" {
		return errors.New("--participant is required")
	}
	if opts.rate <= 0 {
		return fmt.Errorf("--rate must be positive, got %d", opts.rate)
	}
	headset, err := vec3(opts.headset)
	if err != nil {
		return fmt.Errorf("--headset: %w", err)
	}
	hand, err := vec3(opts.hand)
	if err != nil {
		return fmt.Errorf("--hand: %w", err)
	}

	log := logrus.New()
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if opts.verbose {
		log.Level = logrus.DebugLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	endpoint, err := url.Parse(opts.server)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	endpoint = endpoint.JoinPath("ws", opts.participant)
	if opts.token != "" {
		endpoint.RawQuery = url.Values{"token": {opts.token}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint.Redacted(), err)
	}
	defer conn.Close()

	sender := &wsSender{conn: conn, log: log}
	session := presence.NewObserver(opts.participant, opts.token != "", sender, log)
	session.Mirror().SetClient(presence.ClientPose{
		Headset:   presence.Pose{Position: headset},
		RightHand: presence.Pose{Position: hand},
	})

	messages := make(chan presence.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, p, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var msg presence.Message
			if err := json.Unmarshal(p, &msg); err != nil {
				log.WithError(err).Debug("Ignoring undecodable frame")
				continue
			}
			select {
			case messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
	defer ticker.Stop()
	reports := time.NewTicker(opts.report)
	defer reports.Stop()

	for {
		select {
		case msg := <-messages:
			session.Receive("authority", msg)
		case <-ticker.C:
			session.Tick()
		case <-reports.C:
			report(log, session.Mirror())
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

func vec3(v []float32) (mgl32.Vec3, error) {
	if len(v) != 3 {
		return mgl32.Vec3{}, fmt.Errorf("expected 3 components, got %d", len(v))
	}
	return mgl32.Vec3{v[0], v[1], v[2]}, nil
}

func report(log logrus.FieldLogger, mirror *presence.Mirror) {
	snap := mirror.Snapshot()
	entry := log.WithFields(logrus.Fields{
		"ready":   snap.Ready,
		"mode":    snap.Mode,
		"color":   len(snap.Color),
		"vertex":  len(snap.Vertex),
		"pointer": snap.Pointer,
		"agent":   snap.Agent,
	})
	if mirror.Mismatched() {
		entry.Warn("Receiving payloads for another mode; mode change may have been lost")
		return
	}
	entry.Info("Mirror")
}

// wsSender writes uplink reports on the tick goroutine, which is the
// connection's only writer.
type wsSender struct {
	conn *websocket.Conn
	log  logrus.FieldLogger
}

func (s *wsSender) SendToAuthority(peerID string, msg presence.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		s.log.WithError(err).Error("Failed to encode uplink")
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.log.WithError(err).WithField("peer", peerID).Debug("Uplink write failed")
	}
}
