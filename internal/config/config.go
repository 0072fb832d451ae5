package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	SaveDir string `toml:"save_dir"`
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Cloud contains the account and endpoint settings for the doorbell cloud
// service. Username and password may also come from BELFRY_CLOUD_USERNAME /
// BELFRY_CLOUD_PASSWORD (a .env file in the working directory is honored).
type Cloud struct {
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	Region         string `toml:"region"`
	APIBase        string `toml:"api_base"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Doorbells lists the devices to archive and how to recognize them.
type Doorbells struct {
	Names       []string `toml:"names"`
	ModelPrefix string   `toml:"model_prefix"`
}

// Assembly contains settings for merging decrypted segments with ffmpeg.
type Assembly struct {
	Merge      bool   `toml:"merge"`
	FFmpegPath string `toml:"ffmpeg_path"`
	Timeout    int    `toml:"timeout"`
}

// Workflow contains polling cadence and per-cycle fetch settings.
type Workflow struct {
	PollInterval   int `toml:"poll_interval"` // minutes
	WindowHours    int `toml:"window_hours"`
	PageLimit      int `toml:"page_limit"`
	SegmentWorkers int `toml:"segment_workers"`
}

// API contains the daemon status endpoint configuration.
type API struct {
	Bind string `toml:"bind"`
}

// Notifications contains webhook alerting settings.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for belfry.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Cloud         Cloud         `toml:"cloud"`
	Doorbells     Doorbells     `toml:"doorbells"`
	Assembly      Assembly      `toml:"assembly"`
	Workflow      Workflow      `toml:"workflow"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/belfry/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized, and environment
// overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("belfry.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	// Credentials may come from the environment; a .env file in the working
	// directory is loaded first so container deployments can keep secrets
	// out of the config file.
	_ = godotenv.Load()
	if v := strings.TrimSpace(os.Getenv("BELFRY_CLOUD_USERNAME")); v != "" {
		c.Cloud.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("BELFRY_CLOUD_PASSWORD")); v != "" {
		c.Cloud.Password = v
	}

	for _, field := range []*string{&c.Paths.SaveDir, &c.Paths.DataDir, &c.Paths.LogDir} {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}

	names := make([]string, 0, len(c.Doorbells.Names))
	for _, name := range c.Doorbells.Names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	c.Doorbells.Names = names
	c.Cloud.Region = strings.ToLower(strings.TrimSpace(c.Cloud.Region))
	return nil
}

// EnsureDirectories creates required directories for operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.SaveDir, c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the location of the processed-event ledger file.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.DataDir, "data.json")
}

// JournalPath returns the location of the processing journal database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.DataDir, "journal.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "belfryd.lock")
}

// LogFilePath returns the daemon log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "belfry.log")
}

// FFmpegBinary returns the configured ffmpeg executable, defaulting to
// resolution via PATH.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Assembly.FFmpegPath); bin != "" {
		return bin
	}
	return "ffmpeg"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
