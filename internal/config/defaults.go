package config

const (
	defaultStateDir      = "~/.local/share/syncdock"
	defaultScratchDir    = "~/.local/share/syncdock/mounts"
	defaultLogDir        = "~/.local/share/syncdock/logs"
	defaultBookmarksPath = "~/.config/syncdock/bookmarks.conf"

	defaultDaemonBinary   = "rclone"
	defaultRCAddr         = "127.0.0.1:5572"
	defaultAllowOrigin    = "http://localhost"
	defaultStartupGrace   = 2
	defaultStartupTimeout = 15
	defaultPollInterval   = 1
	defaultStopGrace      = 5
	defaultRequestTimeout = 30

	defaultVerifyAttempts    = 3
	defaultVerifyDelayMillis = 500

	defaultHealthCheckInterval = 30
	defaultJobPollInterval     = 1
	defaultBootstrapTimeout    = 60

	defaultNtfyTimeout = 10

	defaultLogFormat = "text"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:      defaultStateDir,
			ScratchDir:    defaultScratchDir,
			LogDir:        defaultLogDir,
			BookmarksPath: defaultBookmarksPath,
		},
		Daemon: Daemon{
			Binary:                defaultDaemonBinary,
			RCEnabled:             true,
			RCAddr:                defaultRCAddr,
			AllowOrigin:           defaultAllowOrigin,
			StartupGraceSeconds:   defaultStartupGrace,
			StartupTimeoutSeconds: defaultStartupTimeout,
			PollIntervalSeconds:   defaultPollInterval,
			StopGraceSeconds:      defaultStopGrace,
			RequestTimeoutSeconds: defaultRequestTimeout,
		},
		Mount: Mount{
			VerifyAttempts:    defaultVerifyAttempts,
			VerifyDelayMillis: defaultVerifyDelayMillis,
		},
		Sync: Sync{
			HealthCheckIntervalSeconds: defaultHealthCheckInterval,
			JobPollIntervalSeconds:     defaultJobPollInterval,
			BootstrapTimeoutMinutes:    defaultBootstrapTimeout,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
