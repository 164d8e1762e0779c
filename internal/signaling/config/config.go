package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the call session manager configuration
type Config struct {
	// HTTP settings
	HTTPAddr string // Address for the API and websocket listener
	LogLevel string
	NodeID   string // Identifier stamped on published events

	// Call timing
	RingTimeout       time.Duration // How long invitees may ring before the call goes missed
	ReaperInterval    time.Duration // Sweep cadence
	LivenessThreshold time.Duration // Silence budget for connected participants
	Retention         time.Duration // How long terminal calls stay queryable before archive

	// Signaling limits
	MaxSDPBytes int

	// Event publisher backend: log or noop
	EventsBackend string

	// Archive backend: memory, postgres, or redis
	RecorderBackend string
	PostgresDSN     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	// Define flags
	flag.StringVar(&cfg.HTTPAddr, "http", ":8080", "HTTP listen address for API and websockets")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.NodeID, "node", "", "Node identifier for published events (hostname if not set)")
	flag.DurationVar(&cfg.RingTimeout, "ring-timeout", 60*time.Second, "Unanswered calls go missed after this long")
	flag.DurationVar(&cfg.ReaperInterval, "reap-interval", 5*time.Second, "Interval between reaper sweeps")
	flag.DurationVar(&cfg.LivenessThreshold, "liveness", 30*time.Second, "Connected participants are dropped after this much silence")
	flag.DurationVar(&cfg.Retention, "retention", 5*time.Minute, "Terminal calls stay queryable this long before eviction")
	flag.IntVar(&cfg.MaxSDPBytes, "max-sdp", 64*1024, "Maximum accepted SDP payload size in bytes")
	flag.StringVar(&cfg.EventsBackend, "events", "log", "Event publisher backend (log, noop)")
	flag.StringVar(&cfg.RecorderBackend, "recorder", "memory", "Call record backend (memory, postgres, redis)")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "Postgres DSN for the call record backend")
	flag.StringVar(&cfg.RedisAddr, "redis", "localhost:6379", "Redis address for the call record backend")

	flag.Parse()

	// Override with environment variables if set
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if node := os.Getenv("NODE_ID"); node != "" {
		cfg.NodeID = node
	}
	if v := os.Getenv("RING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RingTimeout = d
		}
	}
	if v := os.Getenv("REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReaperInterval = d
		}
	}
	if v := os.Getenv("LIVENESS_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LivenessThreshold = d
		}
	}
	if v := os.Getenv("RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention = d
		}
	}
	if v := os.Getenv("MAX_SDP_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSDPBytes = n
		}
	}
	if backend := os.Getenv("EVENTS_BACKEND"); backend != "" {
		cfg.EventsBackend = backend
	}
	if backend := os.Getenv("RECORDER_BACKEND"); backend != "" {
		cfg.RecorderBackend = backend
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.PostgresDSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.RedisPassword = pw
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.RedisDB = n
		}
	}

	if cfg.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.NodeID = host
		}
	}

	return cfg
}
