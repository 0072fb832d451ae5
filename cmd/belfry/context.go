package main

import (
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"belfry/internal/cloud"
	"belfry/internal/config"
	"belfry/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
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
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// buildLogger constructs a logger from the loaded config. Commands that
// produce table output keep the level at warn unless verbose is requested.
func (c *commandContext) buildLogger(verbose bool) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if !verbose {
		level = "warn"
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
	})
}

// buildClient constructs the cloud client from the loaded config.
func (c *commandContext) buildClient(logger *slog.Logger) (*cloud.HTTPClient, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return cloud.NewHTTP(cloud.Options{
		Username: cfg.Cloud.Username,
		Password: cfg.Cloud.Password,
		Region:   cfg.Cloud.Region,
		APIBase:  cfg.Cloud.APIBase,
		Timeout:  time.Duration(cfg.Cloud.RequestTimeout) * time.Second,
	}, logger), nil
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
