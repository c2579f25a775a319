package batchdeployer

import (
	"context"
	"github.com/chararch/batchdeployer/status"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"reflect"
	"runtime/debug"
	"time"
)

// PartitionHandler run all partitions of a step and aggregate their outcome
type PartitionHandler interface {
	Execute(ctx context.Context, jobExecutionId string, partitions Partitions) (*AggregatedOutcome, BatchError)
}

// JobConfig collaborators of a PartitionedJob
type JobConfig struct {
	Name        string
	Params      map[string]interface{}
	Partitioner Partitioner
	Handler     PartitionHandler
	Repository  JobRepository
	Listeners   []JobListener
}

// PartitionedJob job made of a single partitioned step
type PartitionedJob struct {
	cfg JobConfig
}

// NewPartitionedJob create a job, Repository defaults to an in-memory one
func NewPartitionedJob(cfg JobConfig) (*PartitionedJob, BatchError) {
	if cfg.Name == "" {
		cfg.Name = DefaultJobName
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]interface{})
	}
	if cfg.Repository == nil {
		cfg.Repository = NewMemoryRepository()
	}
	var err error
	if cfg.Partitioner == nil {
		err = multierror.Append(err, errors.New("partitioner is required"))
	}
	if cfg.Handler == nil {
		err = multierror.Append(err, errors.New("partition handler is required"))
	}
	if err != nil {
		return nil, NewBatchError(ErrCodeConfiguration, "invalid job config", err)
	}
	return &PartitionedJob{cfg: cfg}, nil
}

//Name job name
func (job *PartitionedJob) Name() string {
	return job.cfg.Name
}

// Run partition the input, execute every partition and map the aggregated status to the job status.
// The returned execution carries the job result; an error is returned when the job could not
// execute its partitions at all.
func (job *PartitionedJob) Run(ctx context.Context) (execution *JobExecution, err BatchError) {
	key, err := jobKey(job.cfg.Name, job.cfg.Params)
	if err != nil {
		return nil, err
	}
	execution = &JobExecution{
		JobName:    job.cfg.Name,
		JobKey:     key,
		JobParams:  job.cfg.Params,
		JobStatus:  status.STARTING,
		CreateTime: time.Now(),
	}
	if err = job.cfg.Repository.SaveJobExecution(ctx, execution); err != nil {
		logger.Error(ctx, "save job execution failed, jobName:%v, err:%v", job.cfg.Name, err)
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic in job executing, jobName:%v, jobExecutionId:%v, err:%v, stack:%v", job.cfg.Name, execution.JobExecutionId, r, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic in job execution: %v", r)
		}
		if err != nil {
			execution.finish(status.FAILED, err)
		}
		for _, listener := range job.cfg.Listeners {
			if e := listener.AfterJob(execution); e != nil {
				logger.Error(ctx, "job listener execute err, jobName:%v, jobExecutionId:%v, listener:%v, err:%v", job.cfg.Name, execution.JobExecutionId, reflect.TypeOf(listener).String(), e)
			}
		}
		if e := job.cfg.Repository.SaveJobExecution(context.Background(), execution); e != nil {
			logger.Error(ctx, "save job execution failed, jobName:%v, jobExecutionId:%v, err:%v", job.cfg.Name, execution.JobExecutionId, e)
			if err == nil {
				err = e
			}
		}
		logger.Info(ctx, "finish job execution, jobName:%v, jobExecutionId:%v, jobStatus:%v", job.cfg.Name, execution.JobExecutionId, execution.JobStatus)
	}()

	logger.Info(ctx, "start running job, jobName:%v, jobExecutionId:%v", job.cfg.Name, execution.JobExecutionId)
	for _, listener := range job.cfg.Listeners {
		if err = listener.BeforeJob(execution); err != nil {
			logger.Error(ctx, "job listener execute err, jobName:%v, jobExecutionId:%v, listener:%v, err:%v", job.cfg.Name, execution.JobExecutionId, reflect.TypeOf(listener).String(), err)
			return execution, err
		}
	}
	execution.start()
	if err = job.cfg.Repository.SaveJobExecution(ctx, execution); err != nil {
		return execution, err
	}

	partitions, err := job.cfg.Partitioner.Partition(ctx)
	if err != nil {
		logger.Error(ctx, "partition failed, jobName:%v, jobExecutionId:%v, err:%v", job.cfg.Name, execution.JobExecutionId, err)
		return execution, err
	}
	outcome, err := job.cfg.Handler.Execute(ctx, execution.JobExecutionId, partitions)
	execution.Outcome = outcome
	if err != nil {
		logger.Error(ctx, "partition handling failed, jobName:%v, jobExecutionId:%v, err:%v", job.cfg.Name, execution.JobExecutionId, err)
		return execution, err
	}
	execution.finish(outcome.OverallStatus, outcome.Err())
	return execution, nil
}
