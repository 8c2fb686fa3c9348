package config

// Backend identifiers accepted by the configuration.
const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"

	QueueBackendMemory = "memory"
	QueueBackendKafka  = "kafka"

	GuardFile  = "file"
	GuardRedis = "redis"

	ContentCacheNone  = "none"
	ContentCacheRedis = "redis"

	FilesBackendLocal = "local"
	FilesBackendGCS   = "gcs"

	EventsBackendLog    = "log"
	EventsBackendPubSub = "pubsub"
)

const (
	defaultDataDir                = "~/.local/share/pubpipe"
	defaultLogDir                 = "~/.local/share/pubpipe/logs"
	defaultLockDir                = "~/.local/share/pubpipe/run"
	defaultStoreFile              = "pubpipe.db"
	defaultStoreMaxOpenConns      = 8
	defaultStoreBusyTimeoutMillis = 5000
	defaultStoreMaxRetries        = 5
	defaultQueueTopic             = "publishing.stages"
	defaultQueueGroup             = "publishing-workers"
	defaultPipelineWorkers        = 4
	defaultPipelineMaxRetries     = 5
	defaultPipelineBackoffBase    = 5
	defaultPipelineBackoffMax     = 300
	defaultPipelineStageTimeout   = 600
	defaultSchedulerInterval      = 60
	defaultSchedulerSweepGrace    = 1800
	defaultSchedulerLockTTL       = 120
	defaultContentCacheKeyPrefix  = "release-content"
	defaultContentCacheTTLHours   = 24 * 30
	defaultFilesStagingDir        = "~/.local/share/pubpipe/files/staging"
	defaultFilesPublicDir         = "~/.local/share/pubpipe/files/public"
	defaultFilesStagingPrefix     = "staging"
	defaultFilesPublicPrefix      = "public"
	defaultDataSetsRequestTimeout = 30
	defaultEventsTopic            = "release-publishing-events"
	defaultNotifyRequestTimeout   = 10
	defaultAPIBind                = "127.0.0.1:7490"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			LockDir: defaultLockDir,
		},
		Store: Store{
			Driver:            StoreDriverSQLite,
			MaxOpenConns:      defaultStoreMaxOpenConns,
			BusyTimeoutMillis: defaultStoreBusyTimeoutMillis,
			MaxRetries:        defaultStoreMaxRetries,
		},
		Queue: Queue{
			Backend: QueueBackendMemory,
			Topic:   defaultQueueTopic,
			Group:   defaultQueueGroup,
		},
		Pipeline: Pipeline{
			Workers:             defaultPipelineWorkers,
			MaxRetries:          defaultPipelineMaxRetries,
			BackoffBaseSeconds:  defaultPipelineBackoffBase,
			BackoffMaxSeconds:   defaultPipelineBackoffMax,
			StageTimeoutSeconds: defaultPipelineStageTimeout,
		},
		Scheduler: Scheduler{
			IntervalSeconds:   defaultSchedulerInterval,
			SweepGraceSeconds: defaultSchedulerSweepGrace,
			Guard:             GuardFile,
			LockTTLSeconds:    defaultSchedulerLockTTL,
		},
		ContentCache: ContentCache{
			Backend:   ContentCacheNone,
			KeyPrefix: defaultContentCacheKeyPrefix,
			TTLHours:  defaultContentCacheTTLHours,
		},
		Files: Files{
			Backend:       FilesBackendLocal,
			StagingDir:    defaultFilesStagingDir,
			PublicDir:     defaultFilesPublicDir,
			StagingPrefix: defaultFilesStagingPrefix,
			PublicPrefix:  defaultFilesPublicPrefix,
		},
		DataSets: DataSets{
			RequestTimeout: defaultDataSetsRequestTimeout,
		},
		Events: Events{
			Backend: EventsBackendLog,
			Topic:   defaultEventsTopic,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Published:      true,
			Archived:       true,
			Failures:       true,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
