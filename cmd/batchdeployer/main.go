package main

import (
	"context"
	"github.com/chararch/batchdeployer"
	"github.com/chararch/batchdeployer/config"
	"github.com/chararch/batchdeployer/internal/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

var (
	appName = "batchdeployer"
	appSha  = "populated-at-link-time"
)

func main() {
	if err := makeApp().Run(os.Args); err != nil {
		logrus.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Usage = "import delimited transaction files into the ledger, one worker per file"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config",
			EnvVar: "BATCH_CONFIG",
			Usage:  "The yaml config file, defaults and BATCH_* environment variables are used when empty",
		},
		cli.StringFlag{
			Name:   "env-file",
			Value:  ".env",
			EnvVar: "BATCH_ENV_FILE",
			Usage:  "The dotenv file loaded before reading BATCH_* environment variables",
		},
		cli.BoolFlag{
			Name:   "skip-migrate",
			EnvVar: "BATCH_SKIP_MIGRATE",
			Usage:  "Do not apply schema migrations on start",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "manager",
			Usage:     "partition the input files and run one worker per partition",
			ArgsUsage: "[resource patterns...]",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "in-process",
					Usage: "Run workers as goroutines of the manager instead of child processes",
				},
			},
			Action: runManager,
		},
		{
			Name:            "worker",
			Usage:           "import the resource of one partition, launched by the manager",
			SkipFlagParsing: true,
			Action:          runWorker,
		},
		{
			Name:  "migrate",
			Usage: "apply the schema migrations",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "drop",
					Usage: "Revert all migrations instead",
				},
			},
			Action: runMigrate,
		},
		{
			Name:      "status",
			Usage:     "print the partition records of a job execution",
			ArgsUsage: "<job execution id>",
			Action:    runStatus,
		},
	}
	return app
}

// loadConfig read the config and install the logger, role is added to every log entry
func loadConfig(appCtx *cli.Context, role string) (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(appCtx.GlobalString("config"), appCtx.GlobalString("env-file"))
	if err != nil {
		return nil, nil, err
	}
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	if cfg.Logging.Format == config.FormatJSON {
		rootLogger.SetFormatter(new(logrus.JSONFormatter))
	} else {
		rootLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	rootLogger.SetLevel(logs.LogrusLevel(logs.ParseLevel(cfg.Logging.Level)))
	entry := rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
		"role": role,
	})
	batchdeployer.SetLogger(logs.NewLogrusLogger(entry))
	return cfg, entry, nil
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, logger *logrus.Entry) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("err", err).Error("metrics server stopped")
		}
	}()
	return func() {
		_ = srv.Shutdown(context.Background())
	}
}

// signalContext cancelled on SIGINT or SIGTERM
func signalContext(logger *logrus.Entry) (context.Context, context.CancelFunc) {
	ctx, cancelFn := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case s := <-sigCh:
			logger.WithField("signal", s.String()).Info("shutting down due to signal")
			cancelFn()
		case <-ctx.Done():
		}
	}()
	return ctx, cancelFn
}
