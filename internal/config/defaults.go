package config

const (
	defaultDataDir              = "~/.local/share/fableforge"
	defaultLogDir               = "~/.local/share/fableforge/logs"
	defaultAPIBind              = "127.0.0.1:8486"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 60
	defaultSignupGrant          = 100
	defaultWorkerRequestTimeout = 30
	defaultWorkerMaxAttempts    = 3
	defaultWorkerBackoffInitial = 500
	defaultWorkerBackoffMax     = 2000
	defaultDispatchPollInterval = 2
	defaultCallbackTimeout      = 900
	defaultReapInterval         = 60
	defaultNotifyTimeout        = 10
)

// DefaultStageCosts is the credit cost table applied when the config file
// does not override [credits.costs].
func DefaultStageCosts() map[string]int64 {
	return map[string]int64{
		"brief":        5,
		"script":       10,
		"narration":    15,
		"images":       20,
		"videos":       40,
		"final":        25,
		"distribution": 10,
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Credits: Credits{
			SignupGrant: defaultSignupGrant,
			Costs:       DefaultStageCosts(),
		},
		Worker: Worker{
			RequestTimeout: defaultWorkerRequestTimeout,
			MaxAttempts:    defaultWorkerMaxAttempts,
			BackoffInitial: defaultWorkerBackoffInitial,
			BackoffMax:     defaultWorkerBackoffMax,
		},
		Workflow: Workflow{
			DispatchPollInterval: defaultDispatchPollInterval,
			CallbackTimeout:      defaultCallbackTimeout,
			ReapInterval:         defaultReapInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			StageComplete:  true,
			StageFailed:    true,
			Deploy:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
