package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the device-side coordinator configuration.
type Config struct {
	ServerURL string
	DeviceID  string
	UserID    string

	DatabasePath string
	LogLevel     string

	// Ringing/initiating calls with no resolution time out after this.
	RingTimeout time.Duration

	// Reconnect backoff is linear: attempt * ReconnectBaseDelay,
	// stopping after ReconnectMaxAttempts.
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int

	// How long handled call/alert ids are remembered. Matches the
	// maximum plausible gap between a push delivery and its socket twin.
	DedupRetention time.Duration

	// Pending-action replay polls for a navigable UI at this interval,
	// giving up (and re-persisting) after ReplayMaxAttempts.
	ReplayPollInterval time.Duration
	ReplayMaxAttempts  int
}

// Load reads coordinator configuration from the environment.
func Load() *Config {
	return &Config{
		ServerURL:            getEnv("ECARE_SERVER_URL", "ws://localhost:8080/api/ws"),
		DeviceID:             getEnv("ECARE_DEVICE_ID", ""),
		UserID:               getEnv("ECARE_USER_ID", ""),
		DatabasePath:         getEnv("ECARE_DB_PATH", "coordinator.db"),
		LogLevel:             getEnv("ECARE_LOG_LEVEL", "info"),
		RingTimeout:          getEnvDuration("ECARE_RING_TIMEOUT", 30*time.Second),
		ReconnectBaseDelay:   getEnvDuration("ECARE_RECONNECT_BASE_DELAY", 2*time.Second),
		ReconnectMaxAttempts: getEnvInt("ECARE_RECONNECT_MAX_ATTEMPTS", 5),
		DedupRetention:       getEnvDuration("ECARE_DEDUP_RETENTION", 10*time.Minute),
		ReplayPollInterval:   getEnvDuration("ECARE_REPLAY_POLL_INTERVAL", 250*time.Millisecond),
		ReplayMaxAttempts:    getEnvInt("ECARE_REPLAY_MAX_ATTEMPTS", 20),
	}
}

// ServerConfig is the companion signaling server configuration.
type ServerConfig struct {
	HTTPPort     string
	Domain       string
	DatabasePath string
	LogLevel     string
	JWTSecret    string
	TURNPort     int
	TURNRealm    string
	VAPID        VAPIDKeys
	RingTTL      time.Duration
}

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// LoadServer reads signalingd configuration from the environment.
func LoadServer() *ServerConfig {
	return &ServerConfig{
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		Domain:       getEnv("DOMAIN", ""),
		DatabasePath: getEnv("DATABASE_PATH", "signalingd.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		TURNPort:     getEnvInt("TURN_PORT", 3478),
		TURNRealm:    getEnv("TURN_REALM", "ecare"),
		VAPID: VAPIDKeys{
			PublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
			PrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
			Subject:    getEnv("VAPID_SUBJECT", "mailto:admin@ecare.app"),
		},
		RingTTL: getEnvDuration("RING_TTL", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
