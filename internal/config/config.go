// Package config loads the orchestrator's runtime configuration the way the teacher's
// internal/config does: godotenv for a .env overlay, os.Getenv-backed helpers with
// logged defaults, and a small YAML file for configuration that should not be
// overridden per-deploy. All recognized environment variables use the FREVAGPT_
// prefix carried from the original Python implementation's settings module.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageBackend selects the C7 Storage Facade implementation.
type StorageBackend string

const (
	StorageBackendFirestore StorageBackend = "firestore"
	StorageBackendMemory    StorageBackend = "memory"
)

// Config holds every FREVAGPT_* setting the orchestrator recognizes (spec.md §6,
// SPEC_FULL.md §6.1).
type Config struct {
	Host        string
	BackendPort string

	// Completion proxy (spec.md §6 LLM-completion contract).
	LiteLLMAddress string

	// Tool servers (spec.md §6 tool-server contract).
	AvailableMCPServers []string          // logical names from FREVAGPT_AVAILABLE_MCP_SERVERS
	MCPServerURLs       map[string]string // name -> FREVAGPT_<NAME>_SERVER_URL
	MCPRequestTimeout   time.Duration

	// Dev mode (SPEC_FULL.md §4.9).
	DevMode bool

	// System prompt asset (SPEC_FULL.md §4.9 prompt-asset loading helper).
	SystemPromptFile string

	// Storage (C7).
	StorageBackend      StorageBackend
	FirestoreProjectID  string
	ToolCatalogueFile   string
	StorageAsync        bool
	StorageWorkerPool   int
	StorageQueueSize    int
	StorageSaveTimeout  time.Duration

	// Registry / orchestrator tuning (C4, C5).
	CleanupCron             string
	MaxIdleSeconds          int
	HeartbeatIntervalSec    int
	StateProbeIntervalMS    int

	// Distributed stop relay (optional).
	NatsURL string

	// Ambient: logging.
	LogLevel  string
	LogFormat string

	// Ambient: CORS for the dev HTTP server.
	CORSAllowedOrigins []string
}

// AppConfig is the process-wide configuration, populated by Load.
var AppConfig *Config

// Load reads environment variables (after loading an optional .env file) into a
// Config, following the teacher's getEnvOrDefault/getEnvAsInt/getEnvAsDuration
// pattern, and stores the result in AppConfig.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: no .env file found, relying on process environment")
	}

	cfg := &Config{
		Host:        getEnvOrDefault("FREVAGPT_HOST", "0.0.0.0"),
		BackendPort: getEnvOrDefault("FREVAGPT_BACKEND_PORT", "8080"),

		LiteLLMAddress: getEnvOrDefault("FREVAGPT_LITE_LLM_ADDRESS", "http://localhost:4000"),

		AvailableMCPServers: getEnvAsCSV("FREVAGPT_AVAILABLE_MCP_SERVERS", nil),
		MCPRequestTimeout:   getEnvAsDuration("FREVAGPT_MCP_REQUEST_TIMEOUT_SEC", 30*time.Second, time.Second),

		DevMode: getEnvAsBool("FREVAGPT_DEV", false),

		SystemPromptFile: getEnvOrDefault("FREVAGPT_SYSTEM_PROMPT_FILE", ""),

		StorageBackend:     StorageBackend(getEnvOrDefault("FREVAGPT_STORAGE_BACKEND", string(StorageBackendMemory))),
		FirestoreProjectID: getEnvOrDefault("FREVAGPT_FIRESTORE_PROJECT_ID", ""),
		ToolCatalogueFile:  getEnvOrDefault("FREVAGPT_TOOL_CATALOGUE_FILE", ""),
		StorageAsync:       getEnvAsBool("FREVAGPT_STORAGE_ASYNC", true),
		StorageWorkerPool:  getEnvAsInt("FREVAGPT_STORAGE_WORKER_POOL_SIZE", 4),
		StorageQueueSize:   getEnvAsInt("FREVAGPT_STORAGE_QUEUE_SIZE", 256),
		StorageSaveTimeout: getEnvAsDuration("FREVAGPT_STORAGE_SAVE_TIMEOUT_SEC", 10*time.Second, time.Second),

		CleanupCron:          getEnvOrDefault("FREVAGPT_CLEANUP_CRON", "@every 1m"),
		MaxIdleSeconds:       getEnvAsInt("FREVAGPT_MAX_IDLE_SEC", 1800),
		HeartbeatIntervalSec: getEnvAsInt("FREVAGPT_HEARTBEAT_INTERVAL_SEC", 10),
		StateProbeIntervalMS: getEnvAsInt("FREVAGPT_STATE_PROBE_INTERVAL_MS", 3000),

		NatsURL: getEnvOrDefault("FREVAGPT_NATS_URL", ""),

		LogLevel:  getEnvOrDefault("FREVAGPT_LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("FREVAGPT_LOG_FORMAT", "console"),

		CORSAllowedOrigins: getEnvAsCSV("FREVAGPT_CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}

	cfg.MCPServerURLs = make(map[string]string, len(cfg.AvailableMCPServers))
	for _, name := range cfg.AvailableMCPServers {
		envKey := "FREVAGPT_" + strings.ToUpper(name) + "_SERVER_URL"
		url := getEnvOrDefault(envKey, "")
		if url == "" {
			log.Printf("Warning: tool server %q listed in FREVAGPT_AVAILABLE_MCP_SERVERS but %s is unset", name, envKey)
			continue
		}
		cfg.MCPServerURLs[name] = url
	}

	if cfg.StorageBackend == StorageBackendFirestore && cfg.FirestoreProjectID == "" {
		log.Println("Warning: FREVAGPT_STORAGE_BACKEND=firestore but FREVAGPT_FIRESTORE_PROJECT_ID is unset")
	}

	if !cfg.DevMode && cfg.StorageBackend == StorageBackendMemory {
		log.Println("Warning: running with in-memory storage outside FREVAGPT_DEV; conversations will not survive a restart")
	}

	AppConfig = cfg
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("Warning: failed to parse %s=%q as bool, using default %v: %v", key, value, defaultValue, err)
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvAsDuration parses a bare integer (interpreted in unit) or a Go duration
// string (e.g. "30s"), matching the teacher's getEnvAsDuration but additionally
// accepting the bare-seconds form used by FREVAGPT_MCP_REQUEST_TIMEOUT_SEC.
func getEnvAsDuration(key string, defaultValue time.Duration, unit time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * unit
	}
	log.Printf("Warning: failed to parse %s=%q as a duration, using default %v", key, value, defaultValue)
	return defaultValue
}

func getEnvAsCSV(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
