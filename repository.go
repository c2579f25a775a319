package batchdeployer

import (
	"context"
	"database/sql"
	"github.com/chararch/batchdeployer/status"
	"github.com/chararch/batchdeployer/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"time"
)

const stepExecutionColumns = "step_execution_id, job_execution_id, step_name, partition_key, resource_locator, status, read_count, write_count, filter_count, commit_count, rollback_count, failure_cause, create_time, start_time, end_time, last_updated, version"

const jobExecutionColumns = "job_execution_id, job_name, job_key, job_params, status, failure_cause, create_time, start_time, end_time, last_updated, version"

type sqlRepository struct {
	db *sql.DB
}

// NewSQLRepository Repository on the batch_job_execution and batch_step_execution tables.
// The statements use '?' placeholders, as understood by the mysql and sqlite3 drivers.
func NewSQLRepository(db *sql.DB) Repository {
	if db == nil {
		panic("db must not be nil")
	}
	return &sqlRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func scanStepExecution(row rowScanner) (*StepExecution, error) {
	execution := &StepExecution{}
	var stepStatus string
	var startTime, endTime sql.NullTime
	err := row.Scan(&execution.StepExecutionId, &execution.JobExecutionId, &execution.StepName, &execution.PartitionKey, &execution.ResourceLocator, &stepStatus, &execution.ReadCount, &execution.WriteCount, &execution.FilterCount, &execution.CommitCount, &execution.RollbackCount, &execution.FailureCause, &execution.CreateTime, &startTime, &endTime, &execution.LastUpdated, &execution.Version)
	if err != nil {
		return nil, err
	}
	execution.StepStatus = status.BatchStatus(stepStatus)
	if !execution.StepStatus.Valid() {
		return nil, errors.Errorf("unknown status %q of step execution:%v", stepStatus, execution.StepExecutionId)
	}
	execution.StartTime = startTime.Time
	execution.EndTime = endTime.Time
	return execution, nil
}

func (r *sqlRepository) Create(ctx context.Context, execution *StepExecution) BatchError {
	now := time.Now()
	created := execution.copy()
	created.StepExecutionId = uuid.New().String()
	created.StepStatus = status.STARTING
	created.CreateTime = now
	created.LastUpdated = now
	created.Version = 1
	_, err := r.db.ExecContext(ctx, "insert into batch_step_execution("+stepExecutionColumns+") values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		created.StepExecutionId, created.JobExecutionId, created.StepName, created.PartitionKey, created.ResourceLocator, string(created.StepStatus),
		created.ReadCount, created.WriteCount, created.FilterCount, created.CommitCount, created.RollbackCount, created.FailureCause,
		created.CreateTime, nullTime(created.StartTime), nullTime(created.EndTime), created.LastUpdated, created.Version)
	if err != nil {
		return NewBatchError(ErrCodeDbFail, "insert step execution of partition:%v failed", execution.PartitionKey, err)
	}
	*execution = *created
	return nil
}

func (r *sqlRepository) Get(ctx context.Context, stepExecutionId string) (*StepExecution, BatchError) {
	row := r.db.QueryRowContext(ctx, "select "+stepExecutionColumns+" from batch_step_execution where step_execution_id=?", stepExecutionId)
	execution, err := scanStepExecution(row)
	if err == sql.ErrNoRows {
		return nil, NewBatchError(ErrCodeNotFound, "step execution:%v not found", stepExecutionId)
	}
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "query step execution:%v failed", stepExecutionId, err)
	}
	return execution, nil
}

func (r *sqlRepository) Transition(ctx context.Context, stepExecutionId string, next status.BatchStatus, cause error) BatchError {
	execution, err := r.Get(ctx, stepExecutionId)
	if err != nil {
		return err
	}
	if err = checkTransition(execution, next); err != nil {
		return err
	}
	version := execution.Version
	applyTransition(execution, next, cause, time.Now())
	res, e := r.db.ExecContext(ctx, "update batch_step_execution set status=?, failure_cause=?, start_time=?, end_time=?, last_updated=?, version=? where step_execution_id=? and version=?",
		string(execution.StepStatus), execution.FailureCause, nullTime(execution.StartTime), nullTime(execution.EndTime), execution.LastUpdated, execution.Version, stepExecutionId, version)
	return checkUpdated(res, e, "batch_step_execution", stepExecutionId)
}

func (r *sqlRepository) UpdateProgress(ctx context.Context, execution *StepExecution) BatchError {
	res, err := r.db.ExecContext(ctx, "update batch_step_execution set read_count=?, write_count=?, filter_count=?, commit_count=?, rollback_count=?, last_updated=?, version=version+1 where step_execution_id=? and status=?",
		execution.ReadCount, execution.WriteCount, execution.FilterCount, execution.CommitCount, execution.RollbackCount, time.Now(), execution.StepExecutionId, string(status.STARTED))
	if err != nil {
		return NewBatchError(ErrCodeDbFail, "update progress of step execution:%v failed", execution.StepExecutionId, err)
	}
	if rowsAffected, _ := res.RowsAffected(); rowsAffected <= 0 {
		stored, e := r.Get(ctx, execution.StepExecutionId)
		if e != nil {
			return e
		}
		return NewBatchError(ErrCodeInvalidTransition, "can not update progress of step execution:%v in status %v", stored.StepExecutionId, stored.StepStatus)
	}
	return nil
}

func (r *sqlRepository) FindByJobExecution(ctx context.Context, jobExecutionId string) ([]*StepExecution, BatchError) {
	rows, err := r.db.QueryContext(ctx, "select "+stepExecutionColumns+" from batch_step_execution where job_execution_id=? order by partition_key", jobExecutionId)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "query step executions of job execution:%v failed", jobExecutionId, err)
	}
	defer rows.Close()

	results := make([]*StepExecution, 0)
	for rows.Next() {
		execution, err := scanStepExecution(rows)
		if err != nil {
			return nil, NewBatchError(ErrCodeDbFail, "scan step execution failed", err)
		}
		results = append(results, execution)
	}
	if err = rows.Err(); err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "iterate step executions failed", err)
	}
	return results, nil
}

func (r *sqlRepository) SaveJobExecution(ctx context.Context, execution *JobExecution) BatchError {
	now := time.Now()
	if execution.JobExecutionId == "" {
		params, err := util.EncodeParams(execution.JobParams)
		if err != nil {
			return NewBatchError(ErrCodeGeneral, "serialize params of job:%v failed", execution.JobName, err)
		}
		id := uuid.New().String()
		_, err = r.db.ExecContext(ctx, "insert into batch_job_execution("+jobExecutionColumns+") values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			id, execution.JobName, execution.JobKey, params, string(execution.JobStatus), execution.FailureCause, execution.CreateTime, nullTime(execution.StartTime), nullTime(execution.EndTime), now, 1)
		if err != nil {
			return NewBatchError(ErrCodeDbFail, "insert job execution of job:%v failed", execution.JobName, err)
		}
		execution.JobExecutionId = id
		execution.LastUpdated = now
		execution.Version = 1
		return nil
	}
	res, err := r.db.ExecContext(ctx, "update batch_job_execution set status=?, failure_cause=?, start_time=?, end_time=?, last_updated=?, version=? where job_execution_id=? and version=?",
		string(execution.JobStatus), execution.FailureCause, nullTime(execution.StartTime), nullTime(execution.EndTime), now, execution.Version+1, execution.JobExecutionId, execution.Version)
	if e := checkUpdated(res, err, "batch_job_execution", execution.JobExecutionId); e != nil {
		return e
	}
	execution.LastUpdated = now
	execution.Version++
	return nil
}

func (r *sqlRepository) GetJobExecution(ctx context.Context, jobExecutionId string) (*JobExecution, BatchError) {
	row := r.db.QueryRowContext(ctx, "select "+jobExecutionColumns+" from batch_job_execution where job_execution_id=?", jobExecutionId)
	execution := &JobExecution{}
	var jobStatus, params string
	var startTime, endTime sql.NullTime
	err := row.Scan(&execution.JobExecutionId, &execution.JobName, &execution.JobKey, &params, &jobStatus, &execution.FailureCause, &execution.CreateTime, &startTime, &endTime, &execution.LastUpdated, &execution.Version)
	if err == sql.ErrNoRows {
		return nil, NewBatchError(ErrCodeNotFound, "job execution:%v not found", jobExecutionId)
	}
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "query job execution:%v failed", jobExecutionId, err)
	}
	execution.JobStatus = status.BatchStatus(jobStatus)
	if !execution.JobStatus.Valid() {
		return nil, NewBatchError(ErrCodeDbFail, "unknown status %q of job execution:%v", jobStatus, jobExecutionId)
	}
	execution.StartTime = startTime.Time
	execution.EndTime = endTime.Time
	if execution.JobParams, err = util.DecodeParams(params); err != nil {
		return nil, NewBatchError(ErrCodeGeneral, "parse params of job execution:%v failed", jobExecutionId, err)
	}
	return execution, nil
}

func checkUpdated(res sql.Result, err error, table string, id string) BatchError {
	if err != nil {
		return NewBatchError(ErrCodeDbFail, "update %v:%v failed", table, id, err)
	}
	rowsAffected, _ := res.RowsAffected()
	if rowsAffected <= 0 {
		return NewBatchError(ErrCodeConcurrency, "update %v:%v failed", table, id, errors.New("stale version"))
	}
	return nil
}
