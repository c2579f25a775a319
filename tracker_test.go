package batchdeployer

import (
	"context"
	"errors"
	"github.com/bmizerany/assert"
	"github.com/chararch/batchdeployer/status"
	"testing"
)

func newStepExecution(jobExecutionId, key string) *StepExecution {
	return &StepExecution{
		JobExecutionId:  jobExecutionId,
		StepName:        DefaultStepName,
		PartitionKey:    key,
		ResourceLocator: key + ".csv",
	}
}

func testTrackerStateMachine(t *testing.T, tracker Tracker) {
	ctx := context.Background()
	execution := newStepExecution("job-1", "partition0")
	err := tracker.Create(ctx, execution)
	assert.Equal(t, nil, err)
	assert.NotEqual(t, "", execution.StepExecutionId)
	assert.Equal(t, status.STARTING, execution.StepStatus)
	assert.Equal(t, int64(1), execution.Version)

	id := execution.StepExecutionId
	err = tracker.Transition(ctx, id, status.COMPLETED, nil)
	assert.T(t, IsCode(err, ErrCodeInvalidTransition))

	assert.Equal(t, nil, tracker.Transition(ctx, id, status.STARTED, nil))
	execution.ReadCount = 10
	execution.WriteCount = 9
	execution.FilterCount = 1
	execution.CommitCount = 1
	assert.Equal(t, nil, tracker.UpdateProgress(ctx, execution))

	assert.Equal(t, nil, tracker.Transition(ctx, id, status.COMPLETED, nil))
	stored, err := tracker.Get(ctx, id)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.COMPLETED, stored.StepStatus)
	assert.Equal(t, int64(10), stored.ReadCount)
	assert.Equal(t, int64(9), stored.WriteCount)
	assert.Equal(t, int64(1), stored.FilterCount)
	assert.Equal(t, "", stored.FailureCause)
	assert.T(t, !stored.StartTime.IsZero())
	assert.T(t, !stored.EndTime.IsZero())
	assert.T(t, stored.Version > 1)

	for _, next := range []status.BatchStatus{status.STARTING, status.STARTED, status.COMPLETED, status.FAILED} {
		err = tracker.Transition(ctx, id, next, nil)
		assert.T(t, IsCode(err, ErrCodeInvalidTransition))
	}
	err = tracker.UpdateProgress(ctx, stored)
	assert.T(t, IsCode(err, ErrCodeInvalidTransition))
}

func testTrackerFailure(t *testing.T, tracker Tracker) {
	ctx := context.Background()
	execution := newStepExecution("job-2", "partition0")
	assert.Equal(t, nil, tracker.Create(ctx, execution))

	err := tracker.UpdateProgress(ctx, execution)
	assert.T(t, IsCode(err, ErrCodeInvalidTransition))

	assert.Equal(t, nil, tracker.Transition(ctx, execution.StepExecutionId, status.FAILED, errors.New("launch refused")))
	stored, err := tracker.Get(ctx, execution.StepExecutionId)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.FAILED, stored.StepStatus)
	assert.Equal(t, "launch refused", stored.FailureCause)

	other := newStepExecution("job-2", "partition1")
	assert.Equal(t, nil, tracker.Create(ctx, other))
	assert.Equal(t, nil, tracker.Transition(ctx, other.StepExecutionId, status.STARTED, nil))
	assert.Equal(t, nil, tracker.Transition(ctx, other.StepExecutionId, status.FAILED, nil))
	stored, err = tracker.Get(ctx, other.StepExecutionId)
	assert.Equal(t, nil, err)
	assert.Equal(t, "unknown failure", stored.FailureCause)
}

func testTrackerFind(t *testing.T, tracker Tracker) {
	ctx := context.Background()
	for _, key := range []string{"partition2", "partition0", "partition1"} {
		assert.Equal(t, nil, tracker.Create(ctx, newStepExecution("job-3", key)))
	}
	assert.Equal(t, nil, tracker.Create(ctx, newStepExecution("job-4", "partition0")))

	executions, err := tracker.FindByJobExecution(ctx, "job-3")
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(executions))
	for i, execution := range executions {
		assert.Equal(t, DefaultKeyPrefix+string(rune('0'+i)), execution.PartitionKey)
	}

	executions, err = tracker.FindByJobExecution(ctx, "job-unknown")
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(executions))

	_, err = tracker.Get(ctx, "missing")
	assert.T(t, IsCode(err, ErrCodeNotFound))
	err = tracker.Transition(ctx, "missing", status.STARTED, nil)
	assert.T(t, IsCode(err, ErrCodeNotFound))
}

func testJobRepository(t *testing.T, repository JobRepository) {
	ctx := context.Background()
	execution := &JobExecution{
		JobName:   DefaultJobName,
		JobParams: map[string]interface{}{"date": "2024-01-02"},
		JobStatus: status.STARTING,
	}
	assert.Equal(t, nil, repository.SaveJobExecution(ctx, execution))
	assert.NotEqual(t, "", execution.JobExecutionId)
	assert.Equal(t, int64(1), execution.Version)

	execution.start()
	assert.Equal(t, nil, repository.SaveJobExecution(ctx, execution))
	assert.Equal(t, int64(2), execution.Version)

	stored, err := repository.GetJobExecution(ctx, execution.JobExecutionId)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.STARTED, stored.JobStatus)
	assert.Equal(t, "2024-01-02", stored.JobParams["date"])

	stale := *stored
	stale.Version = 1
	err = repository.SaveJobExecution(ctx, &stale)
	assert.T(t, IsCode(err, ErrCodeConcurrency))

	_, err = repository.GetJobExecution(ctx, "missing")
	assert.T(t, IsCode(err, ErrCodeNotFound))
}

func TestMemoryRepository_StateMachine(t *testing.T) {
	testTrackerStateMachine(t, NewMemoryRepository())
}

func TestMemoryRepository_Failure(t *testing.T) {
	testTrackerFailure(t, NewMemoryRepository())
}

func TestMemoryRepository_Find(t *testing.T) {
	testTrackerFind(t, NewMemoryRepository())
}

func TestMemoryRepository_JobExecution(t *testing.T) {
	testJobRepository(t, NewMemoryRepository())
}

func TestMemoryRepository_SnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryRepository()
	execution := newStepExecution("job-5", "partition0")
	assert.Equal(t, nil, tracker.Create(ctx, execution))
	snapshot, _ := tracker.Get(ctx, execution.StepExecutionId)
	snapshot.StepStatus = status.COMPLETED
	stored, _ := tracker.Get(ctx, execution.StepExecutionId)
	assert.Equal(t, status.STARTING, stored.StepStatus)
}
