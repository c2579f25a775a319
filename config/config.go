package config

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"time"
)

// Config settings of the batchdeployer command
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Job      JobConfig      `yaml:"job"`
	Manager  ManagerConfig  `yaml:"manager"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig the store of execution records and ledger transactions
type DatabaseConfig struct {
	Dialect      string `yaml:"dialect"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type JobConfig struct {
	Name      string   `yaml:"name"`
	Resources []string `yaml:"resources"`
	KeyPrefix string   `yaml:"key_prefix"`
	ChunkSize int      `yaml:"chunk_size"`
	Table     string   `yaml:"table"`
}

// ManagerConfig how the manager launches and waits for workers
type ManagerConfig struct {
	MaxWorkers      int               `yaml:"max_workers"`
	PollInterval    time.Duration     `yaml:"poll_interval"`
	WorkerCommand   string            `yaml:"worker_command"`
	ApplicationName string            `yaml:"application_name"`
	WorkerArgs      []string          `yaml:"worker_args"`
	InheritEnv      bool              `yaml:"inherit_env"`
	WorkerEnv       map[string]string `yaml:"worker_env"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite3"
	FormatJSON    = "json"
	FormatText    = "text"
)

// NewConfig config filled with defaults
func NewConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect:      DialectSQLite,
			DSN:          "batchdeployer.db",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Job: JobConfig{
			Name:      "partitionedJob",
			KeyPrefix: "partition",
			ChunkSize: 100,
			Table:     "ledger_transaction",
		},
		Manager: ManagerConfig{
			MaxWorkers:      3,
			PollInterval:    time.Second,
			ApplicationName: "PartitionedBatchJobTask",
			InheritEnv:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// Validate check every section, all problems are reported together
func (c *Config) Validate() error {
	var result error
	switch c.Database.Dialect {
	case DialectMySQL, DialectSQLite:
	default:
		result = multierror.Append(result, errors.Errorf("unsupported database dialect: %v", c.Database.Dialect))
	}
	if c.Database.DSN == "" {
		result = multierror.Append(result, errors.New("database dsn is required"))
	}
	if c.Job.Name == "" {
		result = multierror.Append(result, errors.New("job name is required"))
	}
	if c.Job.ChunkSize < 1 {
		result = multierror.Append(result, errors.Errorf("chunk size must be positive, got %v", c.Job.ChunkSize))
	}
	if c.Manager.MaxWorkers < 1 {
		result = multierror.Append(result, errors.Errorf("max workers must be positive, got %v", c.Manager.MaxWorkers))
	}
	if c.Manager.PollInterval <= 0 {
		result = multierror.Append(result, errors.Errorf("poll interval must be positive, got %v", c.Manager.PollInterval))
	}
	switch c.Logging.Format {
	case FormatJSON, FormatText:
	default:
		result = multierror.Append(result, errors.Errorf("unsupported log format: %v", c.Logging.Format))
	}
	return result
}
