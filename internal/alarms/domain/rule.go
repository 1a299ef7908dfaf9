package alarms

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MachineWildcard matches every machine.
const MachineWildcard = "*"

// Severity labels used by the shipped rule file.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ChannelType names a delivery channel kind.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
)

// Valid returns true when the channel type is supported.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelSlack, ChannelWebhook:
		return true
	default:
		return false
	}
}

// ChannelSpec configures one delivery target of a rule.
type ChannelSpec struct {
	Type     ChannelType `json:"type"`
	URL      string      `json:"url"`
	Template string      `json:"template,omitempty"`
	Enabled  bool        `json:"enabled"`
}

// Rule defines a condition evaluated per machine on each alert cycle.
type Rule struct {
	Name                string        `json:"name"`
	MachineID           string        `json:"machine_id"`
	Condition           string        `json:"condition"`
	Severity            string        `json:"severity"`
	DurationSeconds     int           `json:"duration_seconds"`
	DedupeWindowSeconds int           `json:"dedupe_window_seconds,omitempty"`
	Template            string        `json:"template,omitempty"`
	Channels            []ChannelSpec `json:"channels"`
	Enabled             bool          `json:"enabled"`
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Condition) == "" {
		return fmt.Errorf("%w: rule %s has empty condition", ErrInvalidRule, r.Name)
	}
	if r.DurationSeconds < 0 || r.DedupeWindowSeconds < 0 {
		return fmt.Errorf("%w: rule %s has negative duration", ErrInvalidRule, r.Name)
	}
	for _, ch := range r.Channels {
		if !ch.Type.Valid() {
			return fmt.Errorf("%w: rule %s has unknown channel %q", ErrInvalidRule, r.Name, ch.Type)
		}
	}
	return nil
}

// AppliesTo reports whether the rule targets machineID.
func (r Rule) AppliesTo(machineID string) bool {
	return r.MachineID == "" || r.MachineID == MachineWildcard || r.MachineID == machineID
}

// MessageTemplate returns the rule template, else the first channel template.
func (r Rule) MessageTemplate() string {
	if r.Template != "" {
		return r.Template
	}
	for _, ch := range r.Channels {
		if ch.Template != "" {
			return ch.Template
		}
	}
	return ""
}

// DedupeWindow returns the rule window, else fallback.
func (r Rule) DedupeWindow(fallback time.Duration) time.Duration {
	if r.DedupeWindowSeconds > 0 {
		return time.Duration(r.DedupeWindowSeconds) * time.Second
	}
	return fallback
}

// DedupKey is the dedup marker key for a rule and machine.
func DedupKey(rule, machineID string) string {
	return "alert:" + rule + ":" + machineID
}

// RuleSet is one load of the rule configuration. Zero durations mean the
// engine defaults apply.
type RuleSet struct {
	Rules        []Rule        `json:"rules"`
	DedupeWindow time.Duration `json:"-"`
	Lookback     time.Duration `json:"-"`
}

// RuleSource loads the current rule set.
type RuleSource interface {
	LoadRules(ctx context.Context) (RuleSet, error)
}

// DedupStore holds short-lived markers of recently fired alerts.
type DedupStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	// SetNX writes key with ttl only when absent and reports whether it did.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
