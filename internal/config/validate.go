package config

import (
	"fmt"
	"strings"
)

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.SaveDir) == "" {
		problems = append(problems, "paths.save_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if c.Cloud.RequestTimeout <= 0 {
		problems = append(problems, "cloud.request_timeout must be positive")
	}
	if strings.TrimSpace(c.Doorbells.ModelPrefix) == "" {
		problems = append(problems, "doorbells.model_prefix must be set")
	}
	if c.Workflow.PollInterval <= 0 {
		problems = append(problems, "workflow.poll_interval must be positive")
	}
	if c.Workflow.WindowHours <= 0 {
		problems = append(problems, "workflow.window_hours must be positive")
	}
	if c.Workflow.PageLimit <= 0 {
		problems = append(problems, "workflow.page_limit must be positive")
	}
	if c.Workflow.SegmentWorkers <= 0 {
		problems = append(problems, "workflow.segment_workers must be positive")
	}
	if c.Assembly.Timeout <= 0 {
		problems = append(problems, "assembly.timeout must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "auto", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of auto, console, json", c.Logging.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
