// Package config loads gateway configuration from the environment and an
// optional YAML file for the structured keys (agent card, command
// allow-list) that don't fit comfortably in a flat env var.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// AgentCard is served verbatim at /.well-known/agent.json. The gateway
// treats it as opaque beyond the mandatory fields.
type AgentCard struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Skills      []string       `yaml:"skills" json:"skills"`
	Extra       map[string]any `yaml:"extra,omitempty" json:"-"`
}

// TierLimits maps trust tiers to daily quota limits (spec.md §4.3).
type TierLimits struct {
	New         int
	Familiar    int
	Established int
	Trusted     int
}

// DefaultTierLimits are the limits named in spec.md §4.3.
var DefaultTierLimits = TierLimits{New: 10, Familiar: 25, Established: 50, Trusted: 100}

// Config is the fully resolved gateway configuration (spec.md §6).
type Config struct {
	Port     int
	WSPort   int // 0 means share the HTTP listener
	Env      string

	RequireAuth bool
	APIToken    string // bridge.apiToken, compared constant-time

	// ContinuationSecret signs the short-lived tokens GetTask issues for
	// follow=true long-polls (internal/auth/bearer.go). Empty disables
	// the continuation scheme: follow=true still works, it just can't be
	// resumed with anything other than the caller's original credential.
	ContinuationSecret string
	FollowTimeout      time.Duration

	WorkspaceDir     string
	AllowedCommands  []string
	TaskTimeoutSec   int
	TaskTimeoutMax   int
	OutputCapFree    int
	OutputCapPaid    int
	WorkerSlots      int
	QueueHighWater   int

	AgentCard AgentCard

	NodeURL string

	MCPPublicURL   string
	MCPPort        int
	MCPCORSOrigin  string
	MCPMaxBody     int64
	MCPMaxSessions int
	MCPIdleTimeout time.Duration
	MCPScanEvery   time.Duration

	CORSOrigin string // production origin for HttpFront/WsFront

	MaxBodyBytes int64

	ShutdownBudget time.Duration
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load builds a Config from the process environment, applying the defaults
// named throughout spec.md §6. A YAML config file at AGORAMESH_CONFIG_FILE,
// if set, supplies the agent card and allow-list when those are not already
// set via env vars.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        envInt("AGORAMESH_PORT", 3402),
		Env:         env("AGORAMESH_ENV", ""),
		RequireAuth: envBool("AGORAMESH_REQUIRE_AUTH", false),
		APIToken:    env("AGORAMESH_API_TOKEN", ""),

		ContinuationSecret: env("AGORAMESH_CONTINUATION_SECRET", ""),
		FollowTimeout:      time.Duration(envInt("AGORAMESH_FOLLOW_TIMEOUT_SEC", 25)) * time.Second,

		WorkspaceDir:    env("AGORAMESH_WORKSPACE_DIR", "/tmp/agoramesh-workspace"),
		AllowedCommands: envList("AGORAMESH_ALLOWED_COMMANDS", []string{"claude", "git", "npm", "node"}),
		TaskTimeoutSec:  envInt("AGORAMESH_TASK_TIMEOUT_SEC", 60),
		TaskTimeoutMax:  300,
		OutputCapFree:   envInt("AGORAMESH_OUTPUT_CAP_FREE", 2000),
		OutputCapPaid:   envInt("AGORAMESH_OUTPUT_CAP_PAID", 1_000_000),
		WorkerSlots:     envInt("AGORAMESH_WORKER_SLOTS", 0), // 0 -> runtime.NumCPU()
		QueueHighWater:  envInt("AGORAMESH_QUEUE_HIGH_WATER", 0),

		NodeURL: env("AGORAMESH_NODE_URL", ""),

		MCPPublicURL:   env("AGORAMESH_MCP_PUBLIC_URL", ""),
		MCPPort:        envInt("AGORAMESH_MCP_PORT", 3403),
		MCPCORSOrigin:  env("AGORAMESH_MCP_CORS_ORIGIN", ""),
		MCPMaxBody:     int64(envInt("AGORAMESH_MCP_MAX_BODY_BYTES", 1<<20)),
		MCPMaxSessions: 100,
		MCPIdleTimeout: 30 * time.Minute,
		MCPScanEvery:   5 * time.Minute,

		CORSOrigin:   env("AGORAMESH_CORS_ORIGIN", "https://agoramesh.ai"),
		MaxBodyBytes: 1 << 20,

		ShutdownBudget: 30 * time.Second,
	}

	if cfg.WorkerSlots <= 0 {
		cfg.WorkerSlots = runtime.NumCPU()
	}
	if cfg.QueueHighWater == 0 {
		cfg.QueueHighWater = 4 * cfg.WorkerSlots
	}

	if cfg.Env == "development" || cfg.Env == "dev" {
		cfg.CORSOrigin = "*"
	}

	card := AgentCard{
		ID:          env("AGORAMESH_AGENT_ID", "agoramesh-bridge"),
		Name:        env("AGORAMESH_AGENT_NAME", "AgoraMesh Bridge"),
		Description: env("AGORAMESH_AGENT_DESCRIPTION", "AI agent marketplace gateway"),
		Skills:      envList("AGORAMESH_AGENT_SKILLS", []string{"prompt", "code-review", "refactor", "debug"}),
	}

	if path := os.Getenv("AGORAMESH_CONFIG_FILE"); path != "" {
		fileCard, allowed, err := loadYAMLExtras(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		if fileCard != nil {
			card = *fileCard
		}
		if len(allowed) > 0 && os.Getenv("AGORAMESH_ALLOWED_COMMANDS") == "" {
			cfg.AllowedCommands = allowed
		}
	}
	cfg.AgentCard = card

	if cfg.TaskTimeoutSec > cfg.TaskTimeoutMax {
		cfg.TaskTimeoutSec = cfg.TaskTimeoutMax
	}

	return cfg, nil
}

// ForName returns the daily quota limit for a tier name.
func (t TierLimits) ForName(tier string) int {
	switch tier {
	case "FAMILIAR":
		return t.Familiar
	case "ESTABLISHED":
		return t.Established
	case "TRUSTED":
		return t.Trusted
	default:
		return t.New
	}
}
