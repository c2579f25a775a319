package batchdeployer

import (
	"context"
	"github.com/chararch/batchdeployer/status"
	"github.com/chararch/batchdeployer/util"
	"github.com/google/uuid"
	"sort"
	"sync"
	"time"
)

// Tracker persistent record of each partition's step execution.
// Only the worker owning a record transitions it; the manager reads.
type Tracker interface {
	// Create store a new record in STARTING state, filling StepExecutionId and Version
	Create(ctx context.Context, execution *StepExecution) BatchError
	// Transition move the record to next, cause is recorded when next is FAILED
	Transition(ctx context.Context, stepExecutionId string, next status.BatchStatus, cause error) BatchError
	// UpdateProgress store the counters of execution, only legal while STARTED
	UpdateProgress(ctx context.Context, execution *StepExecution) BatchError
	// Get read-only snapshot of a record
	Get(ctx context.Context, stepExecutionId string) (*StepExecution, BatchError)
	// FindByJobExecution all records of a job execution ordered by partition key
	FindByJobExecution(ctx context.Context, jobExecutionId string) ([]*StepExecution, BatchError)
}

// JobRepository persistence of job executions
type JobRepository interface {
	SaveJobExecution(ctx context.Context, execution *JobExecution) BatchError
	GetJobExecution(ctx context.Context, jobExecutionId string) (*JobExecution, BatchError)
}

// Repository store for both job and step executions
type Repository interface {
	Tracker
	JobRepository
}

func checkTransition(execution *StepExecution, next status.BatchStatus) BatchError {
	if !execution.StepStatus.CanTransitionTo(next) {
		return NewBatchError(ErrCodeInvalidTransition, "step execution:%v of partition:%v can not transition from %v to %v", execution.StepExecutionId, execution.PartitionKey, execution.StepStatus, next)
	}
	return nil
}

func applyTransition(execution *StepExecution, next status.BatchStatus, cause error, now time.Time) {
	execution.StepStatus = next
	switch next {
	case status.STARTED:
		execution.StartTime = now
	case status.FAILED:
		if cause != nil {
			execution.FailureCause = cause.Error()
		} else if execution.FailureCause == "" {
			execution.FailureCause = "unknown failure"
		}
		execution.EndTime = now
	case status.COMPLETED:
		execution.EndTime = now
	}
	execution.LastUpdated = now
	execution.Version++
}

func jobKey(jobName string, params map[string]interface{}) (string, BatchError) {
	key, err := util.Fingerprint(jobName, params)
	if err != nil {
		return "", NewBatchError(ErrCodeGeneral, "serialize params of job:%v failed", jobName, err)
	}
	return key, nil
}

type memoryRepository struct {
	mu             sync.RWMutex
	stepExecutions map[string]*StepExecution
	jobExecutions  map[string]*JobExecution
}

// NewMemoryRepository Repository kept in process memory, for single-process runs and tests
func NewMemoryRepository() Repository {
	return &memoryRepository{
		stepExecutions: make(map[string]*StepExecution),
		jobExecutions:  make(map[string]*JobExecution),
	}
}

func (r *memoryRepository) Create(ctx context.Context, execution *StepExecution) BatchError {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	execution.StepExecutionId = uuid.New().String()
	execution.StepStatus = status.STARTING
	execution.CreateTime = now
	execution.LastUpdated = now
	execution.Version = 1
	r.stepExecutions[execution.StepExecutionId] = execution.copy()
	return nil
}

func (r *memoryRepository) Transition(ctx context.Context, stepExecutionId string, next status.BatchStatus, cause error) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.stepExecutions[stepExecutionId]
	if !ok {
		return NewBatchError(ErrCodeNotFound, "step execution:%v not found", stepExecutionId)
	}
	if err := checkTransition(stored, next); err != nil {
		return err
	}
	applyTransition(stored, next, cause, time.Now())
	return nil
}

func (r *memoryRepository) UpdateProgress(ctx context.Context, execution *StepExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.stepExecutions[execution.StepExecutionId]
	if !ok {
		return NewBatchError(ErrCodeNotFound, "step execution:%v not found", execution.StepExecutionId)
	}
	if stored.StepStatus != status.STARTED {
		return NewBatchError(ErrCodeInvalidTransition, "can not update progress of step execution:%v in status %v", stored.StepExecutionId, stored.StepStatus)
	}
	stored.ReadCount = execution.ReadCount
	stored.WriteCount = execution.WriteCount
	stored.FilterCount = execution.FilterCount
	stored.CommitCount = execution.CommitCount
	stored.RollbackCount = execution.RollbackCount
	stored.LastUpdated = time.Now()
	stored.Version++
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, stepExecutionId string) (*StepExecution, BatchError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.stepExecutions[stepExecutionId]
	if !ok {
		return nil, NewBatchError(ErrCodeNotFound, "step execution:%v not found", stepExecutionId)
	}
	return stored.copy(), nil
}

func (r *memoryRepository) FindByJobExecution(ctx context.Context, jobExecutionId string) ([]*StepExecution, BatchError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	results := make([]*StepExecution, 0)
	for _, stored := range r.stepExecutions {
		if stored.JobExecutionId == jobExecutionId {
			results = append(results, stored.copy())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].PartitionKey < results[j].PartitionKey
	})
	return results, nil
}

func (r *memoryRepository) SaveJobExecution(ctx context.Context, execution *JobExecution) BatchError {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if execution.JobExecutionId == "" {
		execution.JobExecutionId = uuid.New().String()
		execution.Version = 0
	} else if stored, ok := r.jobExecutions[execution.JobExecutionId]; !ok {
		return NewBatchError(ErrCodeNotFound, "job execution:%v not found", execution.JobExecutionId)
	} else if stored.Version != execution.Version {
		return NewBatchError(ErrCodeConcurrency, "job execution:%v was modified concurrently", execution.JobExecutionId)
	}
	execution.Version++
	execution.LastUpdated = now
	c := *execution
	r.jobExecutions[execution.JobExecutionId] = &c
	return nil
}

func (r *memoryRepository) GetJobExecution(ctx context.Context, jobExecutionId string) (*JobExecution, BatchError) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.jobExecutions[jobExecutionId]
	if !ok {
		return nil, NewBatchError(ErrCodeNotFound, "job execution:%v not found", jobExecutionId)
	}
	c := *stored
	return &c, nil
}
