package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

type registry struct {
	mu      sync.Mutex
	brokers map[string]*Broker
	create  func(id string, onClose func()) *Broker
}

func newRegistry(create func(id string, onClose func()) *Broker) *registry {
	return &registry{
		brokers: make(map[string]*Broker),
		create:  create,
	}
}

func (r *registry) acquire(id string) *Broker {
	r.mu.Lock()
	defer r.mu.Unlock()

	broker, ok := r.brokers[id]
	if ok {
		select {
		case <-broker.Done():
			ok = false
		default:
		}
	}
	if !ok {
		broker = r.create(id, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.brokers[id] == broker {
				delete(r.brokers, id)
			}
		})
		r.brokers[id] = broker
	}
	return broker
}

// attach registers c with the participant's broker. A broker that closed
// between lookup and registration is replaced once.
func (r *registry) attach(id string, c *client) (*Broker, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		broker := r.acquire(id)
		if err = broker.Register(c); err == nil {
			return broker, nil
		}
	}
	return nil, err
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.brokers)
}

func setCors(h http.Handler, origin string) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		h.ServeHTTP(w, r)
	}

	return http.HandlerFunc(fn)
}

func newRouter(cfg Config, brokers *registry, tokens *TokenIssuer, rdb *redis.Client, log logrus.FieldLogger) *mux.Router {
	router := mux.NewRouter()

	router.Handle("/health", healthController{brokers: brokers})

	router.HandleFunc("/ws/{id:[\\w\\d-]+}", func(response http.ResponseWriter, request *http.Request) {
		id := mux.Vars(request)["id"]
		NewWebsocket(id, brokers, tokens, cfg, log).ServeHTTP(response, request)
	})

	router.HandleFunc("/events/{id:[\\w\\d-]+}", func(response http.ResponseWriter, request *http.Request) {
		id := mux.Vars(request)["id"]
		ServeEvents(response, request, brokers, id, cfg.ClientBuffer)
	})

	if rdb != nil {
		router.HandleFunc("/mirror/{id:[\\w\\d-]+}", func(response http.ResponseWriter, request *http.Request) {
			id := mux.Vars(request)["id"]
			NewFollower(id, log).ServeHTTP(response, request, rdb)
		})
	}

	router.HandleFunc("/update/{id:[\\w\\d-]+}", func(response http.ResponseWriter, request *http.Request) {
		if request.Method == http.MethodOptions {
			return
		}

		id := mux.Vars(request)["id"]

		var in Input
		if err := json.NewDecoder(request.Body).Decode(&in); err != nil {
			http.Error(response, err.Error(), http.StatusBadRequest)
			return
		}

		err := brokers.acquire(id).Update(in)
		if errors.Is(err, errBrokerClosed) {
			err = brokers.acquire(id).Update(in)
		}
		if errors.Is(err, errBrokerClosed) {
			http.Error(response, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(response, err.Error(), http.StatusBadRequest)
			return
		}
		response.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost, http.MethodOptions)

	router.HandleFunc("/token/{id:[\\w\\d-]+}", func(response http.ResponseWriter, request *http.Request) {
		id := mux.Vars(request)["id"]
		token, err := tokens.Issue(id)
		if err != nil {
			log.WithError(err).Error("Failed to sign token")
			http.Error(response, "Failed to sign token", http.StatusInternalServerError)
			return
		}
		response.Header().Set("Content-Type", "application/json")
		json.NewEncoder(response).Encode(map[string]string{"participant": id, "token": token})
	}).Methods(http.MethodPost)

	return router
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		logrus.Fatal(err)
	}

	log, err := cfg.Logger()
	if err != nil {
		logrus.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rdb *redis.Client
	var relay Relay
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("Failed to connect to redis")
		}
		relay = NewRedisRelay(ctx, rdb, cfg.ClientBuffer*4, log)
		log.WithField("addr", cfg.RedisAddr).Info("Relaying downlink through redis")
	}

	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		secret = ksuid.New().Bytes()
		log.Warn("TOKEN_SECRET not set, tokens will not survive a restart")
	}
	tokens := NewTokenIssuer(secret, cfg.TokenTTL)

	brokers := newRegistry(func(id string, onClose func()) *Broker {
		log.WithField("participant", id).Info("Creating broker")
		return NewBroker(id, cfg, relay, log, onClose)
	})

	router := newRouter(cfg, brokers, tokens, rdb, log)

	log.Infof("listening on port %s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, setCors(router, cfg.Origin)); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
