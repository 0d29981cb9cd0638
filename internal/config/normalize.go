package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCredits()
	c.normalizeWorker()
	c.normalizeWorkflow()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeCredits() {
	if c.Credits.Costs == nil {
		c.Credits.Costs = DefaultStageCosts()
		return
	}
	// Stages absent from the user's cost table fall back to defaults so a
	// partial override never makes a stage free by accident.
	for stage, cost := range DefaultStageCosts() {
		if _, ok := c.Credits.Costs[stage]; !ok {
			c.Credits.Costs[stage] = cost
		}
	}
}

func (c *Config) normalizeWorker() {
	c.Worker.URL = strings.TrimSpace(c.Worker.URL)
	c.Worker.AuthToken = strings.TrimSpace(c.Worker.AuthToken)
	if c.Worker.RequestTimeout <= 0 {
		c.Worker.RequestTimeout = defaultWorkerRequestTimeout
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = defaultWorkerMaxAttempts
	}
	if c.Worker.BackoffInitial <= 0 {
		c.Worker.BackoffInitial = defaultWorkerBackoffInitial
	}
	if c.Worker.BackoffMax < c.Worker.BackoffInitial {
		c.Worker.BackoffMax = defaultWorkerBackoffMax
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.DispatchPollInterval <= 0 {
		c.Workflow.DispatchPollInterval = defaultDispatchPollInterval
	}
	if c.Workflow.CallbackTimeout <= 0 {
		c.Workflow.CallbackTimeout = defaultCallbackTimeout
	}
	if c.Workflow.ReapInterval <= 0 {
		c.Workflow.ReapInterval = defaultReapInterval
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.PushURL = strings.TrimSpace(c.Notifications.PushURL)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
}
