// Package config loads the YAML settings file. ${ENV_VAR}
// placeholders are expanded before parsing so secrets can stay out of
// the file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StrategyDateAndTimeOrder    = "dateAndTimeOrder"
	StrategyWeekdayAndTimeOrder = "weekdayAndTimeOrder"
)

type Config struct {
	Site struct {
		Hostname     string `yaml:"hostname"`
		Activity     string `yaml:"activity"`
		ActivityGUID string `yaml:"activity_guid"`
	} `yaml:"site"`

	Credentials struct {
		Login    string `yaml:"login"`
		Password string `yaml:"password"`
		// File points at an encrypted credentials file written by
		// `pitchbook creds encrypt`; it takes precedence over the
		// inline values.
		File string `yaml:"file"`
	} `yaml:"credentials"`

	Strategy Strategy `yaml:"strategy"`

	Booking struct {
		ReasonToCancel string `yaml:"reason_to_cancel"`
		TimeoutMS      int    `yaml:"timeout_ms"`
		RetryTimeoutMS int    `yaml:"retry_timeout_ms"`
	} `yaml:"booking"`

	History struct {
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"history"`
}

type Strategy struct {
	Name         string   `yaml:"name"`
	Dates        []string `yaml:"dates"`
	Weekday      string   `yaml:"weekday"`
	MinDaysAhead int      `yaml:"min_days_ahead"`
	Times        []string `yaml:"times"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/pitchbook.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Site.Activity == "" && c.Site.ActivityGUID == "" {
		c.Site.Activity = "Football"
	}
	if c.Booking.ReasonToCancel == "" {
		c.Booking.ReasonToCancel = "Rebooked a better slot"
	}
	if c.Booking.TimeoutMS <= 0 {
		c.Booking.TimeoutMS = 300_000
	}
	if c.Booking.RetryTimeoutMS <= 0 {
		c.Booking.RetryTimeoutMS = 60_000
	}
}

func (c *Config) Validate() error {
	if c.Site.Hostname == "" {
		return fmt.Errorf("site.hostname is required")
	}
	if c.Credentials.File == "" && (c.Credentials.Login == "" || c.Credentials.Password == "") {
		return fmt.Errorf("credentials.login and credentials.password (or credentials.file) are required")
	}
	switch c.Strategy.Name {
	case StrategyDateAndTimeOrder:
		if len(c.Strategy.Dates) == 0 {
			return fmt.Errorf("strategy.dates is required for %s", StrategyDateAndTimeOrder)
		}
	case StrategyWeekdayAndTimeOrder:
		if c.Strategy.Weekday == "" {
			return fmt.Errorf("strategy.weekday is required for %s", StrategyWeekdayAndTimeOrder)
		}
		if len(c.Strategy.Times) == 0 {
			return fmt.Errorf("strategy.times is required for %s", StrategyWeekdayAndTimeOrder)
		}
	case "":
		return fmt.Errorf("strategy.name is required")
	default:
		return fmt.Errorf("strategy.name must be %s or %s", StrategyDateAndTimeOrder, StrategyWeekdayAndTimeOrder)
	}
	return nil
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Booking.TimeoutMS) * time.Millisecond
}

func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Booking.RetryTimeoutMS) * time.Millisecond
}
