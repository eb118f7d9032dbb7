package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the variables that may override file values. Pointer
// fields stay nil when the variable is unset.
type envOverrides struct {
	MaxResponseTimeMs *int64  `env:"LATTICE_MAX_RESPONSE_TIME_MS"`
	RequiredQuorum    *int    `env:"LATTICE_REQUIRED_QUORUM"`
	AuditRequired     *bool   `env:"LATTICE_AUDIT_REQUIRED"`
	LogLevel          *string `env:"LATTICE_LOG_LEVEL"`
	Addr              *string `env:"LATTICE_ADDR"`
	AuditDSN          *string `env:"LATTICE_AUDIT_DSN"`
	RedisAddr         *string `env:"LATTICE_REDIS_ADDR"`
	JWTSecret         *string `env:"LATTICE_JWT_SECRET"`
}

// ApplyEnv overlays LATTICE_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.MaxResponseTimeMs != nil {
		cfg.Governance.MaxResponseTimeMs = *o.MaxResponseTimeMs
	}
	if o.RequiredQuorum != nil {
		cfg.Governance.RequiredQuorum = *o.RequiredQuorum
	}
	if o.AuditRequired != nil {
		cfg.Governance.AuditRequired = *o.AuditRequired
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.Addr != nil {
		cfg.Server.Addr = *o.Addr
	}
	if o.AuditDSN != nil {
		cfg.Audit.DSN = *o.AuditDSN
	}
	if o.RedisAddr != nil {
		cfg.History.RedisAddr = *o.RedisAddr
	}
	if o.JWTSecret != nil {
		cfg.Server.JWTSecret = *o.JWTSecret
	}
	return nil
}
