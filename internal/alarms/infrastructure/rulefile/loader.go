package rulefile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
)

// DefaultPath is the rule file read when none is configured.
const DefaultPath = "configs/alerts.yaml"

type fileConfig struct {
	Alerts []ruleConfig `yaml:"alerts"`
	Global globalConfig `yaml:"global"`
}

type globalConfig struct {
	DedupeWindowSeconds int `yaml:"dedupe_window_seconds"`
	LookbackSeconds     int `yaml:"lookback_seconds"`
}

type ruleConfig struct {
	Name                string          `yaml:"name"`
	MachineID           string          `yaml:"machine_id"`
	Condition           string          `yaml:"condition"`
	Severity            string          `yaml:"severity"`
	DurationSeconds     int             `yaml:"duration_seconds"`
	DedupeWindowSeconds int             `yaml:"dedupe_window_seconds"`
	Template            string          `yaml:"template"`
	Channels            []channelConfig `yaml:"channels"`
	Enabled             *bool           `yaml:"enabled"`
}

type channelConfig struct {
	Type     string `yaml:"type"`
	URL      string `yaml:"url"`
	Webhook  string `yaml:"webhook"`
	Template string `yaml:"template"`
	Enabled  *bool  `yaml:"enabled"`
}

// Loader reads alert rules from a YAML file on every call, so edits apply
// on the next cycle.
type Loader struct {
	path   string
	logger *log.Logger
}

// NewLoader constructs a loader.
func NewLoader(path string, logger *log.Logger) *Loader {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{path: path, logger: logger}
}

// LoadRules parses the rule file. A missing file yields an empty rule set.
// Invalid rules are skipped and logged.
func (l *Loader) LoadRules(_ context.Context) (alarms.RuleSet, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Printf("alarms: rule file not found: path=%s", l.path)
			return alarms.RuleSet{Rules: []alarms.Rule{}}, nil
		}
		return alarms.RuleSet{}, fmt.Errorf("rulefile: read %s: %w", l.path, err)
	}
	return l.parse(data)
}

func (l *Loader) parse(data []byte) (alarms.RuleSet, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return alarms.RuleSet{}, fmt.Errorf("rulefile: parse %s: %w", l.path, err)
	}

	set := alarms.RuleSet{
		Rules:        make([]alarms.Rule, 0, len(cfg.Alerts)),
		DedupeWindow: seconds(cfg.Global.DedupeWindowSeconds),
		Lookback:     seconds(cfg.Global.LookbackSeconds),
	}
	for _, rc := range cfg.Alerts {
		rule := rc.toRule()
		if err := rule.Validate(); err != nil {
			l.logger.Printf("alarms: rule skipped: path=%s err=%v", l.path, err)
			continue
		}
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

func (rc ruleConfig) toRule() alarms.Rule {
	rule := alarms.Rule{
		Name:                rc.Name,
		MachineID:           rc.MachineID,
		Condition:           rc.Condition,
		Severity:            rc.Severity,
		DurationSeconds:     rc.DurationSeconds,
		DedupeWindowSeconds: rc.DedupeWindowSeconds,
		Template:            rc.Template,
		Enabled:             enabled(rc.Enabled),
		Channels:            make([]alarms.ChannelSpec, 0, len(rc.Channels)),
	}
	if rule.MachineID == "" {
		rule.MachineID = alarms.MachineWildcard
	}
	if rule.Severity == "" {
		rule.Severity = alarms.SeverityInfo
	}
	for _, cc := range rc.Channels {
		url := cc.URL
		if url == "" {
			url = cc.Webhook
		}
		url = os.ExpandEnv(url)
		rule.Channels = append(rule.Channels, alarms.ChannelSpec{
			Type:     alarms.ChannelType(cc.Type),
			URL:      url,
			Template: cc.Template,
			Enabled:  enabled(cc.Enabled) && url != "",
		})
	}
	return rule
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
