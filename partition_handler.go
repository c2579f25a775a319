package batchdeployer

import (
	"context"
	"fmt"
	"github.com/chararch/batchdeployer/status"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"os"
	"reflect"
	"time"
)

// DefaultPollInterval interval between two reads of a running partition's record
const DefaultPollInterval = time.Second

// PartitionHandlerConfig collaborators and settings of DeployerPartitionHandler
type PartitionHandlerConfig struct {
	StepName string
	Launcher Launcher
	Tracker  Tracker
	//WorkerCommand the worker executable handed to the launcher, defaults to the running executable
	WorkerCommand   string
	ArgsProvider    CommandLineArgsProvider
	EnvProvider     EnvironmentVariablesProvider
	MaxWorkers      int
	PollInterval    time.Duration
	Clock           clock.Clock
	ApplicationName string
	Listeners       []PartitionListener
}

func (cfg *PartitionHandlerConfig) validate() error {
	var err error
	if cfg.StepName == "" {
		cfg.StepName = DefaultStepName
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = DefaultWorkerPrefix
	}
	if cfg.ArgsProvider == nil {
		cfg.ArgsProvider = PassThroughArgsProvider{}
	}
	if cfg.EnvProvider == nil {
		cfg.EnvProvider = &SimpleEnvProvider{Inherit: true}
	}
	if cfg.WorkerCommand == "" {
		if exe, e := os.Executable(); e == nil {
			cfg.WorkerCommand = exe
		}
	}
	if cfg.Launcher == nil {
		err = multierror.Append(err, errors.New("launcher is required"))
	}
	if cfg.Tracker == nil {
		err = multierror.Append(err, errors.New("tracker is required"))
	}
	if cfg.MaxWorkers < 1 {
		err = multierror.Append(err, errors.Errorf("max workers must be positive, got %v", cfg.MaxWorkers))
	}
	if cfg.PollInterval < 0 {
		err = multierror.Append(err, errors.Errorf("poll interval must not be negative, got %v", cfg.PollInterval))
	}
	return err
}

// DeployerPartitionHandler manager side of a partitioned step: launch one worker per partition,
// at most MaxWorkers at a time, and wait until every partition is terminal
type DeployerPartitionHandler struct {
	cfg PartitionHandlerConfig
}

// NewDeployerPartitionHandler create a handler, filling the defaults of unset settings
func NewDeployerPartitionHandler(cfg PartitionHandlerConfig) (*DeployerPartitionHandler, BatchError) {
	if err := cfg.validate(); err != nil {
		return nil, NewBatchError(ErrCodeConfiguration, "invalid partition handler config", err)
	}
	return &DeployerPartitionHandler{cfg: cfg}, nil
}

// Execute run all partitions and aggregate their terminal statuses.
// Failures of single partitions are part of the outcome; an error is returned for invalid
// partitions, tracker failures, or when ctx is done before every partition is terminal.
func (h *DeployerPartitionHandler) Execute(ctx context.Context, jobExecutionId string, partitions Partitions) (*AggregatedOutcome, BatchError) {
	if err := partitions.validate(); err != nil {
		return nil, err
	}
	for _, listener := range h.cfg.Listeners {
		if err := listener.BeforePartition(jobExecutionId, partitions); err != nil {
			logger.Error(ctx, "partition listener executing error, jobExecutionId:%v, listener:%v, err:%v", jobExecutionId, reflect.TypeOf(listener).String(), err)
			return nil, err
		}
	}
	pool, err := newTaskPool(h.cfg.MaxWorkers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	logger.Info(ctx, "partition handling start, jobExecutionId:%v, stepName:%v, partitions:%v, maxWorkers:%v", jobExecutionId, h.cfg.StepName, len(partitions), h.cfg.MaxWorkers)
	futures := make([]Future, 0, len(partitions))
	for _, partition := range partitions {
		p := partition
		futures = append(futures, pool.Submit(ctx, func() (interface{}, error) {
			return h.handlePartition(ctx, jobExecutionId, p)
		}))
	}

	outcome := newAggregatedOutcome()
	var taskErr error
	for i, future := range futures {
		val, e := future.Get()
		if e != nil {
			logger.Error(ctx, "partition handling failed, jobExecutionId:%v, partition:%v, err:%v", jobExecutionId, partitions[i].Key, e)
			taskErr = multierror.Append(taskErr, errors.Wrapf(e, "partition %v", partitions[i].Key))
			continue
		}
		outcome.add(val.(*StepExecution))
	}
	if taskErr != nil {
		return outcome, NewBatchError(ErrCodeGeneral, "partitions of job execution:%v not all terminal", jobExecutionId, taskErr)
	}

	for _, key := range outcome.Failed() {
		for _, listener := range h.cfg.Listeners {
			listener.OnError(outcome.PartitionStatuses[key])
		}
	}
	for _, listener := range h.cfg.Listeners {
		if e := listener.AfterPartition(jobExecutionId, outcome); e != nil {
			logger.Error(ctx, "partition listener executing error, jobExecutionId:%v, listener:%v, err:%v", jobExecutionId, reflect.TypeOf(listener).String(), e)
		}
	}
	logger.Info(ctx, "partition handling finish, jobExecutionId:%v, stepName:%v, overallStatus:%v, failed:%v", jobExecutionId, h.cfg.StepName, outcome.OverallStatus, outcome.Failed())
	return outcome, nil
}

func (h *DeployerPartitionHandler) handlePartition(ctx context.Context, jobExecutionId string, partition PartitionDescriptor) (*StepExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tracker := h.cfg.Tracker
	execution := &StepExecution{
		JobExecutionId:  jobExecutionId,
		StepName:        h.cfg.StepName,
		PartitionKey:    partition.Key,
		ResourceLocator: partition.ResourceLocator,
	}
	if err := tracker.Create(ctx, execution); err != nil {
		return nil, err
	}
	params := WorkerParams{
		JobExecutionId:  jobExecutionId,
		StepExecutionId: execution.StepExecutionId,
		PartitionKey:    partition.Key,
		ResourceLocator: partition.ResourceLocator,
	}
	request := LaunchRequest{
		Name:    fmt.Sprintf("%v-%v", h.cfg.ApplicationName, partition.Key),
		Command: h.cfg.WorkerCommand,
		Args:    append(h.cfg.ArgsProvider.Args(partition), params.Args()...),
		Env:     h.cfg.EnvProvider.Env(partition),
	}
	handle, err := h.cfg.Launcher.Launch(ctx, request)
	if err != nil {
		logger.Error(ctx, "launch worker failed, jobExecutionId:%v, partition:%v, err:%v", jobExecutionId, partition.Key, err)
		cause := NewBatchError(ErrCodeLaunch, "launch worker %v failed", request.Name, err)
		return h.fail(ctx, execution.StepExecutionId, cause)
	}
	logger.Info(ctx, "worker launched, jobExecutionId:%v, partition:%v, worker:%v", jobExecutionId, partition.Key, handle.Id())
	return h.await(ctx, execution.StepExecutionId, handle)
}

func (h *DeployerPartitionHandler) await(ctx context.Context, stepExecutionId string, handle WorkerHandle) (*StepExecution, error) {
	tracker := h.cfg.Tracker
	for {
		execution, err := tracker.Get(ctx, stepExecutionId)
		if err != nil {
			return nil, err
		}
		if execution.StepStatus.IsTerminal() {
			return execution, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-handle.Done():
			if execution, err = tracker.Get(ctx, stepExecutionId); err != nil {
				return nil, err
			}
			if execution.StepStatus.IsTerminal() {
				return execution, nil
			}
			cause := NewBatchError(ErrCodeLaunch, "worker %v exited before reaching a terminal state", handle.Id())
			if exitErr := handle.Err(); exitErr != nil {
				cause = NewBatchError(ErrCodeLaunch, "worker %v exited before reaching a terminal state", handle.Id(), exitErr)
			}
			logger.Warn(ctx, "worker exited early, stepExecutionId:%v, status:%v", stepExecutionId, execution.StepStatus)
			return h.fail(ctx, stepExecutionId, cause)
		case <-h.cfg.Clock.After(h.cfg.PollInterval):
		}
	}
}

func (h *DeployerPartitionHandler) fail(ctx context.Context, stepExecutionId string, cause BatchError) (*StepExecution, error) {
	tracker := h.cfg.Tracker
	err := tracker.Transition(ctx, stepExecutionId, status.FAILED, cause)
	if err != nil && !IsCode(err, ErrCodeInvalidTransition) {
		return nil, err
	}
	execution, err := tracker.Get(ctx, stepExecutionId)
	if err != nil {
		return nil, err
	}
	return execution, nil
}
