package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"revisor-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`

	// PostgreSQL
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"revisor"`
	DatabaseSSLMode             string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`

	// Kafka Producer
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"true"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"content-update-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Scheduled update workflow
	StagedStatus     string        `env:"STAGED_STATUS" env-default:"scheduled_update"`
	DispatchInterval time.Duration `env:"DISPATCH_INTERVAL" env-default:"1m"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" env-default:"5m"`
	MergeLockTTL     time.Duration `env:"MERGE_LOCK_TTL" env-default:"5m"`
	PastDateGrace    time.Duration `env:"PAST_DATE_GRACE" env-default:"5m"`
	ActionTokenTTL   time.Duration `env:"ACTION_TOKEN_TTL" env-default:"12h"`
	CapabilityHeader string        `env:"CAPABILITY_HEADER" env-default:"X-Capabilities"`

	// Integration hooks
	BuilderAssetsDir   string   `env:"BUILDER_ASSETS_DIR" env-default:""`
	TranslationEnabled bool     `env:"TRANSLATION_ENABLED" env-default:"false"`
	CommerceEnabled    bool     `env:"COMMERCE_ENABLED" env-default:"false"`
	ExcludedTypes      []string `env:"EXCLUDED_TYPES" env-default:""`
}
