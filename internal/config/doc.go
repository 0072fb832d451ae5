// Package config loads and validates the TOML configuration file that
// controls paths, cloud credentials, doorbell selection, assembly, polling
// cadence, and logging.
package config
