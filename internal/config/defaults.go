package config

// Default returns the configuration used when no file overrides are present.
func Default() Config {
	return Config{
		Paths: Paths{
			SaveDir: "~/belfry/videos",
			DataDir: "~/.local/share/belfry",
			LogDir:  "~/.local/share/belfry/logs",
		},
		Cloud: Cloud{
			Region:         "cn",
			RequestTimeout: 30,
		},
		Doorbells: Doorbells{
			ModelPrefix: "madv.cateye.",
		},
		Assembly: Assembly{
			Merge:   true,
			Timeout: 300,
		},
		Workflow: Workflow{
			PollInterval:   10,
			WindowHours:    24,
			PageLimit:      10,
			SegmentWorkers: 4,
		},
		Notifications: Notifications{
			RequestTimeout: 5,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}
