package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Remote struct {
	DSN               string        // Postgres connection string for the remote backend
	StorageBaseURL    string        // e.g. https://project.example.co
	StorageBucket     string        // Object storage bucket for relayed attachments
	StorageServiceKey string        // Service-role key used for storage uploads
	HeartbeatInterval time.Duration // 0 disables the heartbeat
}

type Queue struct {
	RateLimit       time.Duration   // Minimum gap between two send attempts
	MaxAttempts     int             // Terminal failure after this many attempts
	BackoffSchedule []time.Duration // Fixed retry delays indexed by attempt count
	CheckInterval   time.Duration   // Idle re-check cadence for the run loop
}

type Poller struct {
	ChatDBPath      string        // Read-only local message store
	MessagesDir     string        // Base dir attachment paths are relative to
	PollInterval    time.Duration // Tick cadence for the ingest poller
	MappingRefresh  time.Duration // Tenant mapping cache refresh cadence
	StagingDir      string        // Scratch space for staged attachment copies
	WatchForChanges bool          // fsnotify wake hints on the chat.db directory
}

type API struct {
	Addr        string // Front door listen address
	Key         string // Shared API key; empty leaves the endpoint open (warned)
	MetricsAddr string // Health/metrics listen address
}

type Config struct {
	AppName       string
	API           API
	Remote        Remote
	Queue         Queue
	Poller        Poller
	ShutdownGrace time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseBackoffSchedule parses a comma-separated list of durations, e.g. "5s,15s,30s".
func parseBackoffSchedule(schedule string) []time.Duration {
	def := []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}
	if schedule == "" {
		return def
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}
	if len(durations) == 0 {
		return def
	}
	return durations
}

func defaultChatDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.db"
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}

func defaultMessagesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Library", "Messages")
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "macbridge"),
		API: API{
			Addr:        getenv("API_ADDR", ":8443"),
			Key:         getenv("API_KEY", ""),
			MetricsAddr: getenv("METRICS_ADDR", ":8083"),
		},
		Remote: Remote{
			DSN:               getenv("REMOTE_DSN", ""),
			StorageBaseURL:    getenv("STORAGE_BASE_URL", ""),
			StorageBucket:     getenv("STORAGE_BUCKET", "message-media"),
			StorageServiceKey: getenv("STORAGE_SERVICE_KEY", ""),
			HeartbeatInterval: getenvDuration("HEARTBEAT_INTERVAL", 60*time.Second),
		},
		Queue: Queue{
			RateLimit:       getenvDuration("SEND_RATE_LIMIT", 10*time.Second),
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 3),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			CheckInterval:   getenvDuration("QUEUE_CHECK_INTERVAL", time.Second),
		},
		Poller: Poller{
			ChatDBPath:      getenv("CHAT_DB_PATH", defaultChatDBPath()),
			MessagesDir:     getenv("MESSAGES_DIR", defaultMessagesDir()),
			PollInterval:    getenvDuration("POLL_INTERVAL", 10*time.Second),
			MappingRefresh:  getenvDuration("MAPPING_REFRESH_INTERVAL", time.Hour),
			StagingDir:      getenv("STAGING_DIR", filepath.Join(os.TempDir(), "macbridge-attachments")),
			WatchForChanges: getenvBool("WATCH_CHAT_DB", true),
		},
		ShutdownGrace: getenvDuration("SHUTDOWN_GRACE", 10*time.Second),
	}
}
