package main

import (
	"strings"
	"sync"

	"fableforge/internal/config"
)

type commandContext struct {
	addrFlag   *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(addrFlag, configFlag *string) *commandContext {
	return &commandContext{
		addrFlag:   addrFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiAddr() string {
	if c.addrFlag != nil && strings.TrimSpace(*c.addrFlag) != "" {
		return strings.TrimSpace(*c.addrFlag)
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return "127.0.0.1:7466"
	}
	return cfg.Paths.APIBind
}

func (c *commandContext) apiToken() string {
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Paths.APIToken)
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.apiAddr(), c.apiToken())
}
