package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"github.com/bmizerany/assert"
	"github.com/chararch/batchdeployer"
	"github.com/chararch/batchdeployer/config"
	"github.com/chararch/batchdeployer/schema"
	"github.com/chararch/batchdeployer/status"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func writeInput(t *testing.T, path string, rows int, bad int) {
	var b strings.Builder
	for i := 0; i < rows; i++ {
		amount := fmt.Sprintf("%d.25", i)
		if i == bad {
			amount = "?"
		}
		fmt.Fprintf(&b, "acc-%d,%s,2024-03-01 08:00:%02d\n", i, amount, i%60)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write input failed: %v", err)
	}
}

func runApp(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	app := makeApp()
	app.Writer = &out
	err := app.Run(append([]string{appName}, args...))
	return out.String(), err
}

var executionId = regexp.MustCompile(`job \S+ \(([^)]+)\)`)

func TestManager_InProcess(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BATCH_DB_DSN", filepath.Join(dir, "batch.db"))
	t.Setenv("BATCH_POLL_INTERVAL", "10ms")
	t.Setenv("BATCH_CHUNK_SIZE", "4")
	writeInput(t, filepath.Join(dir, "a.csv"), 10, -1)
	writeInput(t, filepath.Join(dir, "b.csv"), 6, 2)

	out, err := runApp(t, "--env-file", filepath.Join(dir, "none.env"), "manager", "--in-process", filepath.Join(dir, "*.csv"))
	assert.NotEqual(t, nil, err)
	assert.T(t, strings.Contains(out, "FAILED"))
	assert.T(t, strings.Contains(out, "malformed_record"))

	match := executionId.FindStringSubmatch(out)
	assert.Equal(t, 2, len(match))
	out, err = runApp(t, "--skip-migrate", "status", match[1])
	assert.Equal(t, nil, err)
	assert.T(t, strings.Contains(out, "partition0  COMPLETED  10"))
	assert.T(t, strings.Contains(out, "partition1  FAILED"))
}

func TestMigrate(t *testing.T) {
	t.Setenv("BATCH_DB_DSN", filepath.Join(t.TempDir(), "batch.db"))
	_, err := runApp(t, "migrate")
	assert.Equal(t, nil, err)
	_, err = runApp(t, "migrate", "--drop")
	assert.Equal(t, nil, err)
}

func TestWorker_MissingArgs(t *testing.T) {
	_, err := runApp(t, "worker", "--partition-key=partition0")
	assert.NotEqual(t, nil, err)
}

func TestWorkerEnv(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Manager.WorkerEnv = map[string]string{"TZ": "UTC"}
	env := workerEnv(cfg)
	assert.Equal(t, "UTC", env["TZ"])
	assert.Equal(t, "true", env["BATCH_SKIP_MIGRATE"])
	_, ok := cfg.Manager.WorkerEnv["BATCH_SKIP_MIGRATE"]
	assert.T(t, !ok)
}

func TestNewWorker_WithoutListener(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "batch.db")
	_, err := schema.Migrate(schema.DialectSQLite, dsn)
	assert.Equal(t, nil, err)
	db, err := sql.Open("sqlite3", dsn)
	assert.Equal(t, nil, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	cfg := config.NewConfig()
	cfg.Job.ChunkSize = 4
	repository := batchdeployer.NewSQLRepository(db)
	worker, err := newWorker(cfg, db, repository, nil)
	assert.Equal(t, nil, err)

	path := filepath.Join(dir, "a.csv")
	writeInput(t, path, 6, -1)
	ctx := context.Background()
	execution := &batchdeployer.StepExecution{JobExecutionId: "job-1", StepName: batchdeployer.DefaultStepName, PartitionKey: "partition0", ResourceLocator: path}
	assert.Equal(t, nil, repository.Create(ctx, execution))
	result, e := worker.Run(ctx, batchdeployer.PartitionDescriptor{Key: "partition0", ResourceLocator: path}, execution.StepExecutionId)
	assert.Equal(t, nil, e)
	assert.Equal(t, status.COMPLETED, result.StepStatus)
	assert.Equal(t, int64(6), result.WriteCount)
	assert.Equal(t, int64(2), result.CommitCount)
}
