package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCredits(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateCredits() error {
	if c.Credits.SignupGrant < 0 {
		return errors.New("credits.signup_grant must not be negative")
	}
	for stage := range DefaultStageCosts() {
		cost, ok := c.Credits.Costs[stage]
		if !ok {
			return fmt.Errorf("credits.costs.%s is required", stage)
		}
		if cost < 0 {
			return fmt.Errorf("credits.costs.%s must not be negative", stage)
		}
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.URL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/fableforge/config.toml"
		}
		return fmt.Errorf("worker.url is required. Edit %s (create with 'fableforge config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Worker.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("worker.url must be an absolute URL, got %q", c.Worker.URL)
	}
	if c.Worker.MaxAttempts > 10 {
		return errors.New("worker.max_attempts must be 10 or fewer")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.PushURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.PushURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("notifications.push_url must be an absolute URL, got %q", c.Notifications.PushURL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
