// Package config defines the explicit configuration records threaded into the
// engine, pull server and pull agent constructors. Only the CLI bootstraps
// read the environment; every other component receives one of these structs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Download modes accepted by the pull agent.
const (
	ModeZip    = "zip"
	ModeLease  = "lease"
	ModeDirect = "direct"
)

// Defaults mirrored from the agent's documented environment options.
const (
	DefaultLeaseTTL     = 900 * time.Second
	DefaultPullLimit    = 200
	DefaultPullRetries  = 3
	DefaultReceivedDir  = "recebidos"
	DefaultInputDir     = "input"
	DefaultOutputRoot   = "output"
	DefaultErrorDir     = "erro"
	DefaultOpsLogPath   = "logs/operacoes.csv"
	DefaultAgentPort    = 10000
	DefaultServerPort   = 5000
	DefaultSweepDivisor = 4
	DefaultServerDBFile = "splitter.db"
)

// Engine configures a split-and-reconcile run.
type Engine struct {
	OutputRoot       string
	ErrorDir         string
	OpsLogPath       string
	ToleranceCents   int64
	EmitEmptyBuckets bool
}

// Server configures the pull service.
type Server struct {
	Host           string
	Port           int
	InputDir       string
	OutputRoot     string
	DatabasePath   string
	APIToken       string
	AllowedOrigins []string
	DefaultTTL     time.Duration
	WatchOutput    bool
}

// SweepInterval derives the TTL sweep period: at least once per TTL/4,
// floored at one second.
func (s *Server) SweepInterval() time.Duration {
	ttl := s.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	interval := ttl / DefaultSweepDivisor
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Agent configures the pull agent.
type Agent struct {
	DownloadMode string
	BaseURL      string
	APIKey       string
	ZipURL       string
	LeaseTTL     time.Duration
	PullLimit    int
	Retries      int
	VerifySHA256 bool
	BaseDir      string
	InputDir     string
	ReceivedDir  string
	Port         int
}

// AgentFromEnv builds the agent configuration from the documented environment
// options. Called from the agent CLI bootstrap only.
func AgentFromEnv() *Agent {
	a := &Agent{
		DownloadMode: strings.ToLower(envOr("DOWNLOAD_MODE", ModeLease)),
		BaseURL:      os.Getenv("SPLITTER_BASE_URL"),
		APIKey:       os.Getenv("SPLITTER_API_KEY"),
		ZipURL:       os.Getenv("SPLITTER_API_DOWNLOAD"),
		LeaseTTL:     time.Duration(envInt("LEASE_TTL_SECONDS", int(DefaultLeaseTTL/time.Second))) * time.Second,
		PullLimit:    envInt("PULL_LIMIT", DefaultPullLimit),
		Retries:      DefaultPullRetries,
		VerifySHA256: envBool("VERIFY_SHA256", true),
		BaseDir:      envOr("BASE_DIR", "."),
		InputDir:     envOr("AGENTE_INPUT_DIR", DefaultInputDir),
		ReceivedDir:  envOr("AGENTE_OUTPUT_DIR", DefaultReceivedDir),
		Port:         envInt("AGENTE_PORT", DefaultAgentPort),
	}
	return a
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true") || v == "1"
}
