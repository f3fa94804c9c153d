package config

const (
	defaultDataDir                  = "~/.local/share/easel"
	defaultStagingDir               = "~/.local/share/easel/staging"
	defaultLibraryDir               = "~/.local/share/easel/library"
	defaultLogDir                   = "~/.local/share/easel/logs"
	defaultAPIBind                  = "127.0.0.1:7680"
	defaultImageGenRequestTimeout   = 600
	defaultImageGenProgressInterval = 5
	defaultTagMetaRequestTimeout    = 30
	defaultDeliveryRequestTimeout   = 30
	defaultWorkerPollInterval       = 5
	defaultWorkerErrorRetryInterval = 10
	defaultWorkerMaxRetries         = 8
	defaultNtfyRequestTimeout       = 10
	defaultLogFormat                = "auto"
	defaultLogLevel                 = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		ImageGen: ImageGen{
			RequestTimeout:   defaultImageGenRequestTimeout,
			ProgressInterval: defaultImageGenProgressInterval,
		},
		TagMeta: TagMeta{
			RequestTimeout: defaultTagMetaRequestTimeout,
		},
		Delivery: Delivery{
			RequestTimeout: defaultDeliveryRequestTimeout,
		},
		Worker: Worker{
			PollInterval:       defaultWorkerPollInterval,
			ErrorRetryInterval: defaultWorkerErrorRetryInterval,
			MaxRetries:         defaultWorkerMaxRetries,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
