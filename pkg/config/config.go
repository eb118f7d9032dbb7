// Package config loads the lattice process configuration. It is read once at
// startup and treated as immutable afterwards.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// Node kinds understood by the registry builder.
const (
	NodeKindStatic = "static"
	NodeKindCEL    = "cel"
	NodeKindHTTP   = "http"
)

// Audit and history backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendGCS      = "gcs"
	BackendRedis    = "redis"
	BackendNone     = "none"
)

// Config is the full process configuration.
type Config struct {
	Version    string           `yaml:"version" json:"version"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
	Governance GovernanceConfig `yaml:"governance" json:"governance"`
	Nodes      []NodeConfig     `yaml:"nodes" json:"nodes"`
	Audit      AuditConfig      `yaml:"audit" json:"audit"`
	History    HistoryConfig    `yaml:"history" json:"history"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// GovernanceConfig holds the global constraints and compliance checks.
type GovernanceConfig struct {
	MaxResponseTimeMs int64         `yaml:"max_response_time_ms" json:"max_response_time_ms"`
	RequiredQuorum    int           `yaml:"required_quorum" json:"required_quorum"`
	AuditRequired     bool          `yaml:"audit_required" json:"audit_required"`
	DispatchReserveMs int64         `yaml:"dispatch_reserve_ms" json:"dispatch_reserve_ms"`
	ComplianceChecks  []CheckConfig `yaml:"compliance_checks,omitempty" json:"compliance_checks,omitempty"`
}

// CheckConfig is a named CEL predicate every directive must satisfy.
type CheckConfig struct {
	Name string `yaml:"name" json:"name"`
	Expr string `yaml:"expr" json:"expr"`
}

// NodeConfig declares one advisory node.
type NodeConfig struct {
	ID   string `yaml:"id" json:"id"`
	Kind string `yaml:"kind" json:"kind"`

	// static
	Vote      string `yaml:"vote,omitempty" json:"vote,omitempty"`
	Rationale string `yaml:"rationale,omitempty" json:"rationale,omitempty"`
	DelayMs   int64  `yaml:"delay_ms,omitempty" json:"delay_ms,omitempty"`

	// cel
	ApproveIf string `yaml:"approve_if,omitempty" json:"approve_if,omitempty"`
	RejectIf  string `yaml:"reject_if,omitempty" json:"reject_if,omitempty"`

	// http
	URL   string `yaml:"url,omitempty" json:"url,omitempty"`
	Token string `yaml:"token,omitempty" json:"token,omitempty"`
}

// AuditConfig selects the durable audit store and the sink retry policy.
type AuditConfig struct {
	Backend       string `yaml:"backend" json:"backend"`
	DSN           string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Bucket        string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix        string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region        string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint      string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	QueueSize     int    `yaml:"queue_size" json:"queue_size"`
	MaxAttempts   int    `yaml:"max_attempts" json:"max_attempts"`
	BaseBackoffMs int64  `yaml:"base_backoff_ms" json:"base_backoff_ms"`
	MaxBackoffMs  int64  `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// HistoryConfig selects where session records are kept for status queries.
type HistoryConfig struct {
	Backend       string `yaml:"backend" json:"backend"`
	RedisAddr     string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty" json:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty" json:"redis_db,omitempty"`
	TTLSeconds    int64  `yaml:"ttl_seconds" json:"ttl_seconds"`
	MaxSessions   int    `yaml:"max_sessions" json:"max_sessions"`
}

// ServerConfig configures the HTTP submission entry point.
type ServerConfig struct {
	Addr           string  `yaml:"addr" json:"addr"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	JWTSecret      string  `yaml:"jwt_secret,omitempty" json:"jwt_secret,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	Insecure     bool    `yaml:"insecure" json:"insecure"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// Default returns a configuration with every documented default applied.
// It has no nodes; a usable configuration must declare at least k of them.
func Default() *Config {
	gov := contracts.DefaultConstraints()
	return &Config{
		Version:  "1.0.0",
		LogLevel: "INFO",
		Governance: GovernanceConfig{
			MaxResponseTimeMs: gov.MaxResponseTimeMs,
			RequiredQuorum:    gov.RequiredQuorum,
			AuditRequired:     gov.AuditRequired,
			DispatchReserveMs: 100,
		},
		Audit: AuditConfig{
			Backend:       BackendMemory,
			Prefix:        "audit/",
			QueueSize:     256,
			MaxAttempts:   5,
			BaseBackoffMs: 100,
			MaxBackoffMs:  5000,
		},
		History: HistoryConfig{
			Backend:     BackendMemory,
			TTLSeconds:  86400,
			MaxSessions: 10000,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "lattice",
			SampleRate:  1.0,
		},
	}
}

// Constraints projects the governance section onto the runtime contract.
func (c *Config) Constraints() contracts.GovernanceConstraints {
	return contracts.GovernanceConstraints{
		MaxResponseTimeMs: c.Governance.MaxResponseTimeMs,
		RequiredQuorum:    c.Governance.RequiredQuorum,
		AuditRequired:     c.Governance.AuditRequired,
	}
}

// DispatchReserve is the slice of the response budget kept back from the
// fan-out barrier for tallying and validation.
func (c *Config) DispatchReserve() time.Duration {
	return time.Duration(c.Governance.DispatchReserveMs) * time.Millisecond
}

// Validate checks internal consistency. A quorum larger than the node
// registry is reported as *contracts.QuorumMisconfigurationError.
func (c *Config) Validate() error {
	if c.Governance.RequiredQuorum < 1 {
		return fmt.Errorf("governance.required_quorum must be >= 1, got %d", c.Governance.RequiredQuorum)
	}
	if c.Governance.MaxResponseTimeMs <= 0 {
		return fmt.Errorf("governance.max_response_time_ms must be > 0, got %d", c.Governance.MaxResponseTimeMs)
	}
	if c.Governance.DispatchReserveMs < 0 || c.Governance.DispatchReserveMs >= c.Governance.MaxResponseTimeMs {
		return fmt.Errorf("governance.dispatch_reserve_ms must be in [0, max_response_time_ms), got %d", c.Governance.DispatchReserveMs)
	}

	seen := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		if n.ID == "" {
			return fmt.Errorf("nodes[%d]: id is required", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("nodes[%d]: duplicate node id %q", i, n.ID)
		}
		seen[n.ID] = true

		switch n.Kind {
		case NodeKindStatic:
			if !contracts.VoteType(strings.ToUpper(n.Vote)).Valid() {
				return fmt.Errorf("node %q: invalid static vote %q", n.ID, n.Vote)
			}
		case NodeKindCEL:
			if n.ApproveIf == "" && n.RejectIf == "" {
				return fmt.Errorf("node %q: cel node needs approve_if or reject_if", n.ID)
			}
		case NodeKindHTTP:
			if n.URL == "" {
				return fmt.Errorf("node %q: http node needs url", n.ID)
			}
		default:
			return fmt.Errorf("node %q: unknown kind %q", n.ID, n.Kind)
		}
	}

	for i, chk := range c.Governance.ComplianceChecks {
		if chk.Name == "" || chk.Expr == "" {
			return fmt.Errorf("governance.compliance_checks[%d]: name and expr are required", i)
		}
	}

	switch c.Audit.Backend {
	case BackendMemory, BackendNone:
	case BackendSQLite, BackendPostgres:
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit.dsn is required for backend %q", c.Audit.Backend)
		}
	case BackendS3, BackendGCS:
		if c.Audit.Bucket == "" {
			return fmt.Errorf("audit.bucket is required for backend %q", c.Audit.Backend)
		}
	default:
		return fmt.Errorf("unknown audit backend %q", c.Audit.Backend)
	}
	if c.Audit.QueueSize < 1 {
		return fmt.Errorf("audit.queue_size must be >= 1")
	}
	if c.Audit.MaxAttempts < 1 {
		return fmt.Errorf("audit.max_attempts must be >= 1")
	}

	switch c.History.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.History.RedisAddr == "" {
			return fmt.Errorf("history.redis_addr is required for backend redis")
		}
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}

	if c.Governance.RequiredQuorum > len(c.Nodes) {
		return &contracts.QuorumMisconfigurationError{
			Required:   c.Governance.RequiredQuorum,
			Registered: len(c.Nodes),
		}
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level; unknown values map to INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
