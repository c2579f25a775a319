package main

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/chararch/batchdeployer"
	"github.com/chararch/batchdeployer/config"
	"github.com/chararch/batchdeployer/file"
	"github.com/chararch/batchdeployer/ledger"
	"github.com/chararch/batchdeployer/metrics"
	"github.com/chararch/batchdeployer/schema"
	"github.com/chararch/batchdeployer/status"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"io"
	"sort"
	"text/tabwriter"
)

func openDB(appCtx *cli.Context, cfg *config.Config, logger *logrus.Entry) (*sql.DB, error) {
	if !appCtx.GlobalBool("skip-migrate") {
		version, err := schema.Migrate(cfg.Database.Dialect, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		logger.WithField("version", version).Info("schema is up to date")
	}
	db, err := sql.Open(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %v database", cfg.Database.Dialect)
	}
	if cfg.Database.Dialect == config.DialectSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "connect %v database", cfg.Database.Dialect)
	}
	return db, nil
}

// newWorker build the partition worker, listener is nil in worker processes which serve no metrics
func newWorker(cfg *config.Config, db *sql.DB, tracker batchdeployer.Tracker, listener *metrics.Listener) (*batchdeployer.Worker, error) {
	writer, err := ledger.NewWriter(cfg.Job.Table)
	if err != nil {
		return nil, err
	}
	workerConfig := batchdeployer.WorkerConfig{
		ChunkSize:     cfg.Job.ChunkSize,
		Tracker:       tracker,
		ReaderFactory: batchdeployer.NewFileReaderFactory(ledger.NewReader()),
		WriterFactory: batchdeployer.SharedWriter(batchdeployer.NewSQLItemWriter(writer)),
		TxManager:     batchdeployer.NewTransactionManager(db),
	}
	if listener != nil {
		workerConfig.Listeners = []batchdeployer.StepListener{listener}
		workerConfig.ChunkListeners = []batchdeployer.ChunkListener{listener.ChunkListener()}
	}
	worker, e := batchdeployer.NewWorker(workerConfig)
	if e != nil {
		return nil, e
	}
	return worker, nil
}

// workerArgs arguments placed before the partition arguments of every launched worker
func workerArgs(appCtx *cli.Context, cfg *config.Config) []string {
	args := make([]string, 0)
	if path := appCtx.GlobalString("config"); path != "" {
		args = append(args, "--config", path)
	}
	if envFile := appCtx.GlobalString("env-file"); envFile != "" {
		args = append(args, "--env-file", envFile)
	}
	args = append(args, "worker")
	return append(args, cfg.Manager.WorkerArgs...)
}

func workerEnv(cfg *config.Config) map[string]string {
	env := make(map[string]string)
	for k, v := range cfg.Manager.WorkerEnv {
		env[k] = v
	}
	env["BATCH_SKIP_MIGRATE"] = "true"
	return env
}

func runManager(appCtx *cli.Context) error {
	cfg, logger, err := loadConfig(appCtx, "manager")
	if err != nil {
		return err
	}
	db, err := openDB(appCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	patterns := cfg.Job.Resources
	if appCtx.NArg() > 0 {
		patterns = appCtx.Args()
	}
	resources, err := file.Resolve(patterns...)
	if err != nil && !errors.Is(err, file.ErrNoResources) {
		return err
	}

	reg := prometheus.NewRegistry()
	listener := metrics.NewListener(reg, "")
	stopMetrics := serveMetrics(cfg.Metrics.Addr, reg, logger)
	defer stopMetrics()

	repository := batchdeployer.NewSQLRepository(db)
	var launcher batchdeployer.Launcher = &batchdeployer.ProcessLauncher{}
	if appCtx.Bool("in-process") {
		worker, err := newWorker(cfg, db, repository, listener)
		if err != nil {
			return err
		}
		launcher = batchdeployer.WorkerLauncher(worker)
	}
	handler, e := batchdeployer.NewDeployerPartitionHandler(batchdeployer.PartitionHandlerConfig{
		Launcher:        launcher,
		Tracker:         repository,
		WorkerCommand:   cfg.Manager.WorkerCommand,
		ArgsProvider:    batchdeployer.PassThroughArgsProvider(workerArgs(appCtx, cfg)),
		EnvProvider:     &batchdeployer.SimpleEnvProvider{Inherit: cfg.Manager.InheritEnv, Vars: workerEnv(cfg)},
		MaxWorkers:      cfg.Manager.MaxWorkers,
		PollInterval:    cfg.Manager.PollInterval,
		ApplicationName: cfg.Manager.ApplicationName,
		Listeners:       []batchdeployer.PartitionListener{listener},
	})
	if e != nil {
		return e
	}
	job, e := batchdeployer.NewPartitionedJob(batchdeployer.JobConfig{
		Name:        cfg.Job.Name,
		Params:      map[string]interface{}{"resources": resources},
		Partitioner: &batchdeployer.MultiResourcePartitioner{Resources: resources, KeyPrefix: cfg.Job.KeyPrefix},
		Handler:     handler,
		Repository:  repository,
		Listeners:   []batchdeployer.JobListener{listener},
	})
	if e != nil {
		return e
	}
	if e = batchdeployer.Register(job); e != nil {
		return e
	}
	defer batchdeployer.Unregister(job)

	ctx, cancelFn := signalContext(logger)
	defer cancelFn()
	execution, e := batchdeployer.Start(ctx, job.Name())
	if e != nil {
		return e
	}
	printExecution(appCtx.App.Writer, execution, execution.Outcome, nil)
	if execution.JobStatus != status.COMPLETED {
		return errors.Errorf("job execution %v ended %v", execution.JobExecutionId, execution.JobStatus)
	}
	return nil
}

func runWorker(appCtx *cli.Context) error {
	params, e := batchdeployer.ParseWorkerArgs(appCtx.Args())
	if e != nil {
		return e
	}
	cfg, logger, err := loadConfig(appCtx, "worker")
	if err != nil {
		return err
	}
	logger = logger.WithFields(logrus.Fields{"partition": params.PartitionKey, "resource": params.ResourceLocator})
	db, err := openDB(appCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	worker, err := newWorker(cfg, db, batchdeployer.NewSQLRepository(db), nil)
	if err != nil {
		return err
	}
	if e = worker.Handle(context.Background(), params); e != nil {
		return e
	}
	logger.Info("partition completed")
	return nil
}

func runMigrate(appCtx *cli.Context) error {
	cfg, logger, err := loadConfig(appCtx, "migrate")
	if err != nil {
		return err
	}
	if appCtx.Bool("drop") {
		if err = schema.Drop(cfg.Database.Dialect, cfg.Database.DSN); err != nil {
			return err
		}
		logger.Info("schema dropped")
		return nil
	}
	version, err := schema.Migrate(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		return err
	}
	logger.WithField("version", version).Info("schema migrated")
	return nil
}

func runStatus(appCtx *cli.Context) error {
	if appCtx.NArg() != 1 {
		return errors.New("status expects exactly one job execution id")
	}
	cfg, logger, err := loadConfig(appCtx, "status")
	if err != nil {
		return err
	}
	db, err := openDB(appCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	report, e := batchdeployer.Inspect(context.Background(), batchdeployer.NewSQLRepository(db), appCtx.Args().First())
	if e != nil {
		return e
	}
	printExecution(appCtx.App.Writer, report.Execution, report.Outcome, report.Pending)
	return nil
}

func printExecution(w io.Writer, execution *batchdeployer.JobExecution, outcome *batchdeployer.AggregatedOutcome, pending []string) {
	fmt.Fprintf(w, "job %v (%v): %v\n", execution.JobName, execution.JobExecutionId, execution.JobStatus)
	if outcome == nil {
		if execution.FailureCause != "" {
			fmt.Fprintf(w, "cause: %v\n", execution.FailureCause)
		}
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tSTATUS\tREAD\tWRITTEN\tCOMMITS\tRESOURCE\tCAUSE")
	keys := make([]string, 0, len(outcome.PartitionStatuses))
	for key := range outcome.PartitionStatuses {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		record := outcome.PartitionStatuses[key]
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%v\n", record.PartitionKey, record.StepStatus,
			record.ReadCount, record.WriteCount, record.CommitCount, record.ResourceLocator, record.FailureCause)
	}
	_ = tw.Flush()
	if len(pending) > 0 {
		fmt.Fprintf(w, "still running: %v\n", pending)
	}
}
