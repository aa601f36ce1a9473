package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса релея.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token   string `envconfig:"TG_BOT_TOKEN"`
		APIID   int    `envconfig:"TG_API_ID"`
		APIHash string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	MTProto struct {
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE" default:"relay.session"`
	} `envconfig:""`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	PairsFile string `envconfig:"PAIRS_FILE" default:"pairs.yaml"`

	Groups struct {
		GraceWindow time.Duration `envconfig:"GROUP_GRACE_WINDOW" default:"5s"`
		Staleness   time.Duration `envconfig:"GROUP_STALENESS" default:"8s"`
		SweepEvery  time.Duration `envconfig:"GROUP_SWEEP_EVERY" default:"2s"`
		MaxItems    int           `envconfig:"GROUP_MAX_ITEMS" default:"10"`
	} `envconfig:""`

	Queue struct {
		Capacity int           `envconfig:"QUEUE_CAPACITY" default:"256"`
		Workers  int           `envconfig:"QUEUE_WORKERS" default:"4"`
		RPS      float64       `envconfig:"QUEUE_RPS" default:"20"`
		Burst    int           `envconfig:"QUEUE_BURST" default:"5"`
		Timeout  time.Duration `envconfig:"QUEUE_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Reconnect struct {
		Base        time.Duration `envconfig:"RECONNECT_BASE" default:"1s"`
		Multiplier  float64       `envconfig:"RECONNECT_MULTIPLIER" default:"2"`
		Cap         time.Duration `envconfig:"RECONNECT_CAP" default:"16s"`
		MaxFailures int           `envconfig:"RECONNECT_MAX_FAILURES" default:"5"`
		ProbeEvery  time.Duration `envconfig:"PROBE_EVERY" default:"30s"`
	} `envconfig:""`

	Caches struct {
		DedupSize     int           `envconfig:"DEDUP_SIZE" default:"4096"`
		InfoSize      int           `envconfig:"INFO_CACHE_SIZE" default:"512"`
		InfoTTL       time.Duration `envconfig:"INFO_CACHE_TTL" default:"10m"`
		CapabilityTTL time.Duration `envconfig:"CAPABILITY_TTL" default:"5m"`
		ResolverTTL   time.Duration `envconfig:"RESOLVER_TTL" default:"1h"`
	} `envconfig:""`

	Forward struct {
		MaxRetries int `envconfig:"FORWARD_MAX_RETRIES" default:"3"`
	} `envconfig:""`

	EventsQueue string `envconfig:"EVENTS_QUEUE" default:"relay_events"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
