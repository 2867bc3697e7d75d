package main

import (
	"fmt"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/james226/presence-api/presence"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port   string `env:"PORT" envDefault:"3000"`
	Origin string `env:"ORIGIN" envDefault:"http://localhost:8080"`

	TickRate     int           `env:"TICK_RATE" envDefault:"30"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"30s"`
	ClientBuffer int           `env:"CLIENT_BUFFER" envDefault:"64"`

	InitialMode  presence.Mode `env:"INITIAL_MODE" envDefault:"point-cloud"`
	KinectWidth  int           `env:"KINECT_WIDTH" envDefault:"640"`
	KinectHeight int           `env:"KINECT_HEIGHT" envDefault:"576"`

	RedisAddr   string        `env:"REDIS_ADDR"`
	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"12h"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(presence.Mode(0)): func(v string) (interface{}, error) {
				return presence.ParseMode(v)
			},
		},
	})
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TickRate <= 0 {
		return Config{}, fmt.Errorf("TICK_RATE must be positive, got %d", cfg.TickRate)
	}
	if cfg.ClientBuffer <= 0 {
		return Config{}, fmt.Errorf("CLIENT_BUFFER must be positive, got %d", cfg.ClientBuffer)
	}
	return cfg, nil
}

func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	log.Level = level
	return log, nil
}
