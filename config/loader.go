package config

import (
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefix of the environment variables overriding the config file
const EnvPrefix = "BATCH_"

// Load build the config from defaults, the yaml file at path (skipped when empty),
// the dotenv files and finally BATCH_* environment variables. Missing dotenv files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %v", path)
		}
		if err = Parse(cfg, data); err != nil {
			return nil, errors.Wrapf(err, "parse config file %v", path)
		}
	}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load env file %v", envFile)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// Parse overlay yaml data on cfg
func Parse(cfg *Config, data []byte) error {
	return yaml.Unmarshal(data, cfg)
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var result error
	str := func(name string, target *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*target = v
		}
	}
	num := func(name string, target *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				result = multierror.Append(result, errors.Errorf("%v%v is not a number: %v", EnvPrefix, name, v))
				return
			}
			*target = n
		}
	}
	list := func(name string, target *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			items := make([]string, 0)
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			*target = items
		}
	}

	str("DB_DIALECT", &cfg.Database.Dialect)
	str("DB_DSN", &cfg.Database.DSN)
	num("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	num("DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)

	str("JOB_NAME", &cfg.Job.Name)
	list("JOB_RESOURCES", &cfg.Job.Resources)
	str("JOB_KEY_PREFIX", &cfg.Job.KeyPrefix)
	num("CHUNK_SIZE", &cfg.Job.ChunkSize)
	str("TABLE", &cfg.Job.Table)

	num("MAX_WORKERS", &cfg.Manager.MaxWorkers)
	if v, ok := lookup(EnvPrefix + "POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			result = multierror.Append(result, errors.Errorf("%vPOLL_INTERVAL is not a duration: %v", EnvPrefix, v))
		} else {
			cfg.Manager.PollInterval = d
		}
	}
	str("WORKER_COMMAND", &cfg.Manager.WorkerCommand)
	str("APPLICATION_NAME", &cfg.Manager.ApplicationName)
	list("WORKER_ARGS", &cfg.Manager.WorkerArgs)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("METRICS_ADDR", &cfg.Metrics.Addr)
	return result
}
