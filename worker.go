package batchdeployer

import (
	"context"
	"fmt"
	"github.com/chararch/batchdeployer/status"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"reflect"
	"runtime/debug"
	"strings"
)

// worker argument names, shared by the manager building the command line and the worker parsing it
const (
	ArgJobExecutionId  = "job-execution-id"
	ArgStepExecutionId = "step-execution-id"
	ArgPartitionKey    = "partition-key"
	ArgResource        = "resource"
)

// WorkerParams what a launched worker needs to know about its partition
type WorkerParams struct {
	JobExecutionId  string
	StepExecutionId string
	PartitionKey    string
	ResourceLocator string
}

// Args command line arguments conveying the params, in the form --name=value
func (p WorkerParams) Args() []string {
	return []string{
		fmt.Sprintf("--%s=%s", ArgJobExecutionId, p.JobExecutionId),
		fmt.Sprintf("--%s=%s", ArgStepExecutionId, p.StepExecutionId),
		fmt.Sprintf("--%s=%s", ArgPartitionKey, p.PartitionKey),
		fmt.Sprintf("--%s=%s", ArgResource, p.ResourceLocator),
	}
}

// Descriptor the partition the params refer to
func (p WorkerParams) Descriptor() PartitionDescriptor {
	return PartitionDescriptor{Key: p.PartitionKey, ResourceLocator: p.ResourceLocator}
}

// ParseWorkerArgs extract WorkerParams from a worker command line.
// Arguments it does not know, such as pass-through arguments of the manager, are ignored.
func ParseWorkerArgs(args []string) (WorkerParams, BatchError) {
	params := WorkerParams{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		value := ""
		hasValue := false
		if idx := strings.Index(name, "="); idx >= 0 {
			name, value, hasValue = name[:idx], name[idx+1:], true
		}
		var target *string
		switch name {
		case ArgJobExecutionId:
			target = &params.JobExecutionId
		case ArgStepExecutionId:
			target = &params.StepExecutionId
		case ArgPartitionKey:
			target = &params.PartitionKey
		case ArgResource:
			target = &params.ResourceLocator
		default:
			continue
		}
		if !hasValue && i+1 < len(args) {
			i++
			value = args[i]
		}
		*target = value
	}
	return params, params.validate()
}

func (p WorkerParams) validate() BatchError {
	var result error
	if p.StepExecutionId == "" {
		result = multierror.Append(result, errors.Errorf("missing --%s", ArgStepExecutionId))
	}
	if p.PartitionKey == "" {
		result = multierror.Append(result, errors.Errorf("missing --%s", ArgPartitionKey))
	}
	if p.ResourceLocator == "" {
		result = multierror.Append(result, errors.Errorf("missing --%s", ArgResource))
	}
	if result != nil {
		return NewBatchError(ErrCodeConfiguration, "invalid worker arguments", result)
	}
	return nil
}

// WorkerConfig collaborators of a Worker
type WorkerConfig struct {
	StepName       string
	ChunkSize      int
	Tracker        Tracker
	ReaderFactory  ReaderFactory
	Processor      Processor
	WriterFactory  WriterFactory
	TxManager      TransactionManager
	Listeners      []StepListener
	ChunkListeners []ChunkListener
}

// Worker chunk-oriented runtime executing exactly one partition
type Worker struct {
	config WorkerConfig
}

// NewWorker create a Worker, filling defaults for StepName, ChunkSize and TxManager
func NewWorker(config WorkerConfig) (*Worker, BatchError) {
	if config.StepName == "" {
		config.StepName = DefaultStepName
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.TxManager == nil {
		config.TxManager = NewNopTransactionManager()
	}
	var result error
	if config.ChunkSize < 1 {
		result = multierror.Append(result, errors.Errorf("chunk size must be positive, got %v", config.ChunkSize))
	}
	if config.Tracker == nil {
		result = multierror.Append(result, errors.New("tracker is required"))
	}
	if config.ReaderFactory == nil {
		result = multierror.Append(result, errors.New("reader factory is required"))
	}
	if config.WriterFactory == nil {
		result = multierror.Append(result, errors.New("writer factory is required"))
	}
	if result != nil {
		return nil, NewBatchError(ErrCodeConfiguration, "invalid worker config", result)
	}
	return &Worker{config: config}, nil
}

// Handle entry point of a worker process: run the partition named by params.
// An error is returned when the partition did not complete.
func (w *Worker) Handle(ctx context.Context, params WorkerParams) BatchError {
	if err := params.validate(); err != nil {
		return err
	}
	execution, err := w.Run(ctx, params.Descriptor(), params.StepExecutionId)
	if err != nil {
		return err
	}
	if execution.StepStatus != status.COMPLETED {
		return NewBatchError(ErrCodeGeneral, "partition:%v ended %v, cause:%v", execution.PartitionKey, execution.StepStatus, execution.FailureCause)
	}
	return nil
}

// Run execute the partition and drive its tracker record to a terminal status.
// Processing failures are reported through the returned snapshot; an error is only
// returned when the tracker record can not be read or written.
func (w *Worker) Run(ctx context.Context, partition PartitionDescriptor, stepExecutionId string) (*StepExecution, BatchError) {
	tracker := w.config.Tracker
	if err := tracker.Transition(ctx, stepExecutionId, status.STARTED, nil); err != nil {
		logger.Error(ctx, "start step execution failed, stepExecutionId:%v, partition:%v, err:%v", stepExecutionId, partition.Key, err)
		return nil, err
	}
	execution, err := tracker.Get(ctx, stepExecutionId)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "step execute start, jobExecutionId:%v, stepName:%v, partition:%v, resource:%v", execution.JobExecutionId, execution.StepName, partition.Key, partition.ResourceLocator)

	procErr := w.execute(ctx, partition, execution)

	if procErr != nil {
		if err = tracker.UpdateProgress(ctx, execution); err != nil {
			logger.Error(ctx, "save step execution failed, stepExecutionId:%v, err:%v", stepExecutionId, err)
			return nil, err
		}
		err = tracker.Transition(ctx, stepExecutionId, status.FAILED, procErr)
	} else {
		err = tracker.Transition(ctx, stepExecutionId, status.COMPLETED, nil)
	}
	if err != nil {
		logger.Error(ctx, "finish step execution failed, stepExecutionId:%v, err:%v", stepExecutionId, err)
		return nil, err
	}
	if execution, err = tracker.Get(ctx, stepExecutionId); err != nil {
		return nil, err
	}
	for _, listener := range w.config.Listeners {
		if e := listener.AfterStep(execution); e != nil {
			logger.Error(ctx, "step listener executing error, stepExecutionId:%v, listener:%v, err:%v", stepExecutionId, reflect.TypeOf(listener).String(), e)
		}
	}
	logger.Info(ctx, "step execute finish, jobExecutionId:%v, stepName:%v, partition:%v, stepStatus:%v, readCount:%v, writeCount:%v", execution.JobExecutionId, execution.StepName, partition.Key, execution.StepStatus, execution.ReadCount, execution.WriteCount)
	return execution, nil
}

func (w *Worker) execute(ctx context.Context, partition PartitionDescriptor, execution *StepExecution) (err BatchError) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic on step executing, stepExecutionId:%v, err:%v, stack:%v", execution.StepExecutionId, r, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic on step executing, partition:%v, err:%v", partition.Key, r)
		}
	}()
	for _, listener := range w.config.Listeners {
		if err = listener.BeforeStep(execution); err != nil {
			logger.Error(ctx, "step listener executing error, stepExecutionId:%v, listener:%v, err:%v", execution.StepExecutionId, reflect.TypeOf(listener).String(), err)
			return err
		}
	}
	reader, err := w.config.ReaderFactory(partition)
	if err != nil {
		return err
	}
	writer, err := w.config.WriterFactory(partition)
	if err != nil {
		return err
	}
	opened, err := open(execution, reader, writer)
	defer func() {
		if e := closeAll(execution, opened); e != nil {
			logger.Error(ctx, "close resource failed, stepExecutionId:%v, err:%v", execution.StepExecutionId, e)
			if err == nil {
				err = e
			}
		}
	}()
	if err != nil {
		logger.Error(ctx, "open resource failed, stepExecutionId:%v, resource:%v, err:%v", execution.StepExecutionId, partition.ResourceLocator, err)
		return err
	}

	loop := &chunkLoop{
		worker:    w,
		partition: partition,
		execution: execution,
		reader:    reader,
		writer:    writer,
		input:     newChunk(),
	}
	return loop.run(ctx)
}

func open(execution *StepExecution, resources ...interface{}) ([]OpenCloser, BatchError) {
	opened := make([]OpenCloser, 0, len(resources))
	for _, resource := range resources {
		if oc, ok := resource.(OpenCloser); ok {
			if err := oc.Open(execution); err != nil {
				return opened, err
			}
			opened = append(opened, oc)
		}
	}
	return opened, nil
}

func closeAll(execution *StepExecution, opened []OpenCloser) BatchError {
	var first BatchError
	for i := len(opened) - 1; i >= 0; i-- {
		if err := opened[i].Close(execution); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type chunk struct {
	items    []interface{}
	output   []interface{}
	filtered int
	end      bool
}

func newChunk() *chunk {
	return &chunk{
		items:  make([]interface{}, 0),
		output: make([]interface{}, 0),
	}
}

func (ch *chunk) reset() {
	ch.items = ch.items[0:0]
	ch.output = ch.output[0:0]
	ch.filtered = 0
}

type chunkLoop struct {
	worker    *Worker
	partition PartitionDescriptor
	execution *StepExecution
	reader    Reader
	writer    Writer
	input     *chunk
}

func (l *chunkLoop) run(ctx context.Context) BatchError {
	txManager := l.worker.config.TxManager
	execution := l.execution
	for !l.input.end {
		l.input.reset()
		tx, err := txManager.BeginTx(ctx)
		if err != nil {
			logger.Error(ctx, "start transaction err, stepExecutionId:%v, err:%v", execution.StepExecutionId, err)
			return err
		}
		chunkCtx := &ChunkContext{
			ctx:           ctx,
			StepExecution: execution,
			Partition:     l.partition,
			Tx:            tx,
		}
		err = l.doChunk(ctx, chunkCtx)
		if err == nil {
			err = txManager.Commit(tx)
		}
		if err != nil {
			logger.Error(ctx, "chunk failed, stepExecutionId:%v, partition:%v, err:%v", execution.StepExecutionId, l.partition.Key, err)
			if txErr := txManager.Rollback(tx); txErr != nil {
				logger.Error(ctx, "rollback transaction err, stepExecutionId:%v, err:%v", execution.StepExecutionId, txErr)
			}
			execution.ReadCount += int64(len(l.input.items))
			execution.RollbackCount++
			return err
		}
		if len(l.input.items) > 0 {
			execution.ReadCount += int64(len(l.input.items))
			execution.WriteCount += int64(len(l.input.output))
			execution.FilterCount += int64(l.input.filtered)
			execution.CommitCount++
			if err = l.worker.config.Tracker.UpdateProgress(ctx, execution); err != nil {
				logger.Error(ctx, "save step execution failed, stepExecutionId:%v, err:%v", execution.StepExecutionId, err)
				return err
			}
		}
	}
	return nil
}

func (l *chunkLoop) doChunk(ctx context.Context, chunkCtx *ChunkContext) (err BatchError) {
	listeners := l.worker.config.ChunkListeners
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic on chunk executing, stepExecutionId:%v, err:%v, stack:%v", l.execution.StepExecutionId, r, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic on chunk executing, partition:%v, err:%v", l.partition.Key, r)
		}
		if err != nil {
			for _, listener := range listeners {
				listener.OnError(chunkCtx, err)
			}
		}
	}()
	for _, listener := range listeners {
		if err = listener.BeforeChunk(chunkCtx); err != nil {
			return err
		}
	}
	input := l.input
	if err = l.readChunk(chunkCtx); err != nil {
		return err
	}
	logger.Debug(ctx, "read chunk data success, stepExecutionId:%v, read count:%v", l.execution.StepExecutionId, len(input.items))

	processor := l.worker.config.Processor
	for _, item := range input.items {
		outItem := item
		if processor != nil {
			if outItem, err = processor.Process(item, chunkCtx); err != nil {
				return err
			}
		}
		if outItem != nil {
			input.output = append(input.output, outItem)
		} else {
			input.filtered++
		}
	}
	if len(input.output) > 0 {
		if err = l.writer.Write(input.output, chunkCtx); err != nil {
			return err
		}
		logger.Debug(ctx, "write chunk data success, stepExecutionId:%v, write count:%v", l.execution.StepExecutionId, len(input.output))
	}
	for _, listener := range listeners {
		if err = listener.AfterChunk(chunkCtx); err != nil {
			return err
		}
	}
	return nil
}

func (l *chunkLoop) readChunk(chunkCtx *ChunkContext) BatchError {
	input := l.input
	for len(input.items) < l.worker.config.ChunkSize {
		item, err := l.reader.Read(chunkCtx)
		if err != nil {
			return err
		}
		if item == nil {
			input.end = true
			break
		}
		input.items = append(input.items, item)
	}
	chunkCtx.End = input.end
	return nil
}
