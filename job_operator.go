package batchdeployer

import (
	"context"
	"github.com/chararch/batchdeployer/status"
	"sync"
)

var (
	registryLock sync.RWMutex
	jobRegistry  = make(map[string]*PartitionedJob)
)

// Register register job under its name
func Register(job *PartitionedJob) BatchError {
	registryLock.Lock()
	defer registryLock.Unlock()
	if _, ok := jobRegistry[job.Name()]; ok {
		return NewBatchError(ErrCodeConfiguration, "job with name:%v has already been registered", job.Name())
	}
	jobRegistry[job.Name()] = job
	return nil
}

// Unregister remove job from registry
func Unregister(job *PartitionedJob) {
	registryLock.Lock()
	defer registryLock.Unlock()
	delete(jobRegistry, job.Name())
}

// Start run a registered job by name and wait for it to end
func Start(ctx context.Context, jobName string) (*JobExecution, BatchError) {
	registryLock.RLock()
	job, ok := jobRegistry[jobName]
	registryLock.RUnlock()
	if !ok {
		logger.Error(ctx, "can not find job with name:%v", jobName)
		return nil, NewBatchError(ErrCodeNotFound, "can not find job with name:%v", jobName)
	}
	return job.Run(ctx)
}

// JobReport a job execution with the records of its partitions
type JobReport struct {
	Execution *JobExecution
	Outcome   *AggregatedOutcome
	Pending   []string
}

// Inspect rebuild the outcome of a job execution from the tracker store,
// partitions not yet terminal are listed in Pending and keep a job without failures STARTED
func Inspect(ctx context.Context, repository Repository, jobExecutionId string) (*JobReport, BatchError) {
	execution, err := repository.GetJobExecution(ctx, jobExecutionId)
	if err != nil {
		return nil, err
	}
	records, err := repository.FindByJobExecution(ctx, jobExecutionId)
	if err != nil {
		return nil, err
	}
	report := &JobReport{Execution: execution, Outcome: newAggregatedOutcome()}
	for _, record := range records {
		if !record.StepStatus.IsTerminal() {
			report.Pending = append(report.Pending, record.PartitionKey)
			report.Outcome.PartitionStatuses[record.PartitionKey] = record
			continue
		}
		report.Outcome.add(record)
	}
	if len(report.Pending) > 0 && report.Outcome.OverallStatus != status.FAILED {
		report.Outcome.OverallStatus = status.STARTED
	}
	return report, nil
}
