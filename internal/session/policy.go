package session

import (
	"errors"
	"time"
)

// Policy bounds the lifetime of an authenticated session.
type Policy struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	AbsoluteTimeout   time.Duration `yaml:"absolute_timeout"`
	RememberMeTimeout time.Duration `yaml:"remember_me_timeout"`
	WarningBefore     time.Duration `yaml:"warning_before"`

	// RecordTTL is the expiry of the activity record in the store. It is a
	// safety net for abandoned sessions, not the idle boundary.
	RecordTTL time.Duration `yaml:"record_ttl"`

	// StoreTimeout bounds every activity store call.
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// DefaultPolicy returns the production session policy.
func DefaultPolicy() Policy {
	return Policy{
		IdleTimeout:       30 * time.Minute,
		AbsoluteTimeout:   24 * time.Hour,
		RememberMeTimeout: 7 * 24 * time.Hour,
		WarningBefore:     5 * time.Minute,
		RecordTTL:         24 * time.Hour,
		StoreTimeout:      2 * time.Second,
	}
}

// ApplyDefaults fills zero values from DefaultPolicy.
func (p *Policy) ApplyDefaults() {
	def := DefaultPolicy()
	if p.IdleTimeout == 0 {
		p.IdleTimeout = def.IdleTimeout
	}
	if p.AbsoluteTimeout == 0 {
		p.AbsoluteTimeout = def.AbsoluteTimeout
	}
	if p.RememberMeTimeout == 0 {
		p.RememberMeTimeout = def.RememberMeTimeout
	}
	if p.WarningBefore == 0 {
		p.WarningBefore = def.WarningBefore
	}
	if p.RecordTTL == 0 {
		p.RecordTTL = def.RecordTTL
	}
	if p.StoreTimeout == 0 {
		p.StoreTimeout = def.StoreTimeout
	}
}

// Validate checks the policy is coherent.
func (p Policy) Validate() error {
	if p.IdleTimeout <= 0 || p.AbsoluteTimeout <= 0 || p.RememberMeTimeout <= 0 {
		return errors.New("session timeouts must be positive")
	}
	if p.IdleTimeout > p.AbsoluteTimeout {
		return errors.New("idle timeout must not exceed absolute timeout")
	}
	if p.WarningBefore < 0 {
		return errors.New("warning window must not be negative")
	}
	if p.RecordTTL < p.IdleTimeout {
		return errors.New("activity record TTL must be at least the idle timeout")
	}
	if p.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	return nil
}
