package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"reelforge/internal/apiclient"
	"reelforge/internal/config"
	"reelforge/internal/logging"
	"reelforge/internal/resume"
)

type rootFlags struct {
	config  string
	address string
	token   string
	output  string
}

type commandContext struct {
	flags *rootFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *rootFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// client builds an API client from flags, falling back to the config.
func (c *commandContext) client() (*apiclient.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	address := strings.TrimSpace(c.flags.address)
	if address == "" {
		address = dialAddress(cfg.Paths.APIBind)
	}
	if address == "" {
		return nil, fmt.Errorf("daemon address not configured; set paths.api_bind or pass --daemon")
	}
	token := strings.TrimSpace(c.flags.token)
	if token == "" {
		token = cfg.Paths.APIToken
	}
	return apiclient.New(address, apiclient.WithToken(token)), nil
}

func (c *commandContext) resumeCache() (*resume.Cache, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg, "reelforge")
	if err != nil {
		logger = logging.NewNop()
	}
	return resume.New(cfg.ResumeCachePath(), logger), nil
}

// dialAddress turns a listen address into one a client can connect to.
func dialAddress(bind string) string {
	bind = strings.TrimSpace(bind)
	switch {
	case strings.HasPrefix(bind, ":"):
		return "127.0.0.1" + bind
	case strings.HasPrefix(bind, "0.0.0.0:"):
		return "127.0.0.1" + strings.TrimPrefix(bind, "0.0.0.0")
	}
	return bind
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
