package batchdeployer

import (
	"context"
	"fmt"
	"github.com/bmizerany/assert"
	"github.com/chararch/batchdeployer/status"
	"sync"
	"testing"
)

type sliceReader struct {
	records   []string
	malformed int
	pos       int
	opened    bool
	closed    bool
}

func newSliceReader(count int, malformed int) *sliceReader {
	records := make([]string, count)
	for i := 0; i < count; i++ {
		records[i] = fmt.Sprintf("record-%v", i)
	}
	return &sliceReader{records: records, malformed: malformed}
}

func (r *sliceReader) Open(execution *StepExecution) BatchError {
	r.opened = true
	r.pos = 0
	return nil
}

func (r *sliceReader) Close(execution *StepExecution) BatchError {
	r.closed = true
	return nil
}

func (r *sliceReader) Read(chunkCtx *ChunkContext) (interface{}, BatchError) {
	if r.pos >= len(r.records) {
		return nil, nil
	}
	if r.pos == r.malformed {
		return nil, NewBatchError(ErrCodeMalformedRecord, "malformed record at line %v", r.pos+1)
	}
	item := r.records[r.pos]
	r.pos++
	return item, nil
}

type recordingWriter struct {
	mu         sync.Mutex
	calls      [][]interface{}
	failOnCall int
}

func (w *recordingWriter) Write(items []interface{}, chunkCtx *ChunkContext) BatchError {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.calls)+1 == w.failOnCall {
		w.failOnCall = 0
		return NewBatchError(ErrCodeWrite, "write chunk of partition:%v failed", chunkCtx.Partition.Key)
	}
	batch := make([]interface{}, len(items))
	copy(batch, items)
	w.calls = append(w.calls, batch)
	return nil
}

func (w *recordingWriter) sizes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	sizes := make([]int, 0, len(w.calls))
	for _, call := range w.calls {
		sizes = append(sizes, len(call))
	}
	return sizes
}

func readerOf(reader *sliceReader) ReaderFactory {
	return func(partition PartitionDescriptor) (Reader, BatchError) {
		return reader, nil
	}
}

func startPartition(t *testing.T, tracker Tracker, key string) *StepExecution {
	execution := newStepExecution("job-worker", key)
	assert.Equal(t, nil, tracker.Create(context.Background(), execution))
	return execution
}

func runWorker(t *testing.T, chunkSize int, reader *sliceReader, writer Writer) *StepExecution {
	tracker := NewMemoryRepository()
	worker, err := NewWorker(WorkerConfig{
		ChunkSize:     chunkSize,
		Tracker:       tracker,
		ReaderFactory: readerOf(reader),
		WriterFactory: SharedWriter(writer),
	})
	assert.Equal(t, nil, err)
	created := startPartition(t, tracker, "partition0")
	execution, err := worker.Run(context.Background(), PartitionDescriptor{Key: "partition0", ResourceLocator: "partition0.csv"}, created.StepExecutionId)
	assert.Equal(t, nil, err)
	return execution
}

func TestWorker_WriteCallCount(t *testing.T) {
	cases := []struct {
		records   int
		chunkSize int
		sizes     []int
	}{
		{250, 100, []int{100, 100, 50}},
		{200, 100, []int{100, 100}},
		{7, 1, []int{1, 1, 1, 1, 1, 1, 1}},
		{5, 10, []int{5}},
		{10, 3, []int{3, 3, 3, 1}},
	}
	for _, c := range cases {
		writer := &recordingWriter{}
		execution := runWorker(t, c.chunkSize, newSliceReader(c.records, -1), writer)
		assert.Equal(t, status.COMPLETED, execution.StepStatus)
		assert.Equal(t, int64(c.records), execution.ReadCount)
		assert.Equal(t, int64(c.records), execution.WriteCount)
		assert.Equal(t, int64(len(c.sizes)), execution.CommitCount)
		assert.Equal(t, c.sizes, writer.sizes())
	}
}

func TestWorker_EmptyResource(t *testing.T) {
	writer := &recordingWriter{}
	reader := newSliceReader(0, -1)
	execution := runWorker(t, 100, reader, writer)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, int64(0), execution.ReadCount)
	assert.Equal(t, int64(0), execution.WriteCount)
	assert.Equal(t, 0, len(writer.sizes()))
	assert.T(t, reader.opened)
	assert.T(t, reader.closed)
}

func TestWorker_Rerun(t *testing.T) {
	reader := newSliceReader(42, -1)
	first := runWorker(t, 10, reader, &recordingWriter{})
	second := runWorker(t, 10, reader, &recordingWriter{})
	assert.Equal(t, first.ReadCount, second.ReadCount)
	assert.Equal(t, first.WriteCount, second.WriteCount)
	assert.Equal(t, int64(42), second.WriteCount)
}

func TestWorker_MalformedRecord(t *testing.T) {
	writer := &recordingWriter{}
	execution := runWorker(t, 100, newSliceReader(50, 30), writer)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(30), execution.ReadCount)
	assert.Equal(t, int64(0), execution.WriteCount)
	assert.Equal(t, int64(1), execution.RollbackCount)
	assert.Equal(t, 0, len(writer.sizes()))
	assert.NotEqual(t, "", execution.FailureCause)
}

func TestWorker_WriteErrorOnThirdChunk(t *testing.T) {
	writer := &recordingWriter{failOnCall: 3}
	execution := runWorker(t, 10, newSliceReader(50, -1), writer)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(20), execution.WriteCount)
	assert.Equal(t, int64(2), execution.CommitCount)
	assert.Equal(t, int64(1), execution.RollbackCount)
	assert.Equal(t, []int{10, 10}, writer.sizes())
}

type failingChunkListener struct {
	failOn int
	before int
	errors int
}

func (l *failingChunkListener) BeforeChunk(chunkCtx *ChunkContext) BatchError {
	l.before++
	if l.before == l.failOn {
		return NewBatchError(ErrCodeGeneral, "chunk %v rejected", l.before)
	}
	return nil
}

func (l *failingChunkListener) AfterChunk(chunkCtx *ChunkContext) BatchError {
	return nil
}

func (l *failingChunkListener) OnError(chunkCtx *ChunkContext, err BatchError) {
	l.errors++
}

func TestWorker_BeforeChunkErrorOnSecondChunk(t *testing.T) {
	tracker := NewMemoryRepository()
	writer := &recordingWriter{}
	listener := &failingChunkListener{failOn: 2}
	worker, err := NewWorker(WorkerConfig{
		ChunkSize:      10,
		Tracker:        tracker,
		ReaderFactory:  readerOf(newSliceReader(25, -1)),
		WriterFactory:  SharedWriter(writer),
		ChunkListeners: []ChunkListener{listener},
	})
	assert.Equal(t, nil, err)
	created := startPartition(t, tracker, "partition0")
	execution, err := worker.Run(context.Background(), PartitionDescriptor{Key: "partition0", ResourceLocator: "x"}, created.StepExecutionId)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(10), execution.ReadCount)
	assert.Equal(t, int64(10), execution.WriteCount)
	assert.Equal(t, int64(1), execution.CommitCount)
	assert.Equal(t, int64(1), execution.RollbackCount)
	assert.Equal(t, 1, listener.errors)
	assert.Equal(t, []int{10}, writer.sizes())

	stored, e := tracker.Get(context.Background(), created.StepExecutionId)
	assert.Equal(t, nil, e)
	assert.Equal(t, int64(10), stored.ReadCount)
}

func TestWorker_Filter(t *testing.T) {
	tracker := NewMemoryRepository()
	writer := &recordingWriter{}
	worker, err := NewWorker(WorkerConfig{
		ChunkSize:     4,
		Tracker:       tracker,
		ReaderFactory: readerOf(newSliceReader(10, -1)),
		WriterFactory: SharedWriter(writer),
		Processor: ProcessorFunc(func(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
			if item.(string) == "record-3" || item.(string) == "record-4" {
				return nil, nil
			}
			return item, nil
		}),
	})
	assert.Equal(t, nil, err)
	created := startPartition(t, tracker, "partition0")
	execution, err := worker.Run(context.Background(), PartitionDescriptor{Key: "partition0", ResourceLocator: "x"}, created.StepExecutionId)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, int64(10), execution.ReadCount)
	assert.Equal(t, int64(8), execution.WriteCount)
	assert.Equal(t, int64(2), execution.FilterCount)
	assert.Equal(t, []int{3, 3, 2}, writer.sizes())
}

func TestWorker_Panic(t *testing.T) {
	writer := &recordingWriter{}
	tracker := NewMemoryRepository()
	worker, _ := NewWorker(WorkerConfig{
		Tracker:       tracker,
		ReaderFactory: readerOf(newSliceReader(3, -1)),
		WriterFactory: SharedWriter(writer),
		Processor: ProcessorFunc(func(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
			var m map[string]int
			m["boom"]++
			return item, nil
		}),
	})
	created := startPartition(t, tracker, "partition0")
	execution, err := worker.Run(context.Background(), PartitionDescriptor{Key: "partition0", ResourceLocator: "x"}, created.StepExecutionId)
	assert.Equal(t, nil, err)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(1), execution.RollbackCount)
}

func TestWorker_RunOnTerminalRecord(t *testing.T) {
	tracker := NewMemoryRepository()
	worker, _ := NewWorker(WorkerConfig{
		Tracker:       tracker,
		ReaderFactory: readerOf(newSliceReader(3, -1)),
		WriterFactory: SharedWriter(&recordingWriter{}),
	})
	created := startPartition(t, tracker, "partition0")
	assert.Equal(t, nil, tracker.Transition(context.Background(), created.StepExecutionId, status.FAILED, nil))
	_, err := worker.Run(context.Background(), PartitionDescriptor{Key: "partition0", ResourceLocator: "x"}, created.StepExecutionId)
	assert.T(t, IsCode(err, ErrCodeInvalidTransition))
}

func TestWorker_Handle(t *testing.T) {
	tracker := NewMemoryRepository()
	worker, _ := NewWorker(WorkerConfig{
		Tracker:       tracker,
		ReaderFactory: readerOf(newSliceReader(3, 1)),
		WriterFactory: SharedWriter(&recordingWriter{}),
	})
	created := startPartition(t, tracker, "partition0")
	params := WorkerParams{
		JobExecutionId:  created.JobExecutionId,
		StepExecutionId: created.StepExecutionId,
		PartitionKey:    "partition0",
		ResourceLocator: "partition0.csv",
	}
	err := worker.Handle(context.Background(), params)
	assert.NotEqual(t, nil, err)

	err = worker.Handle(context.Background(), WorkerParams{})
	assert.T(t, IsCode(err, ErrCodeConfiguration))
}

func TestNewWorker_Invalid(t *testing.T) {
	_, err := NewWorker(WorkerConfig{ChunkSize: -1})
	assert.T(t, IsCode(err, ErrCodeConfiguration))
}

func TestParseWorkerArgs(t *testing.T) {
	params := WorkerParams{
		JobExecutionId:  "job-1",
		StepExecutionId: "step-1",
		PartitionKey:    "partition0",
		ResourceLocator: "/data/a.csv",
	}
	args := append([]string{"worker", "--config=batch.yaml"}, params.Args()...)
	parsed, err := ParseWorkerArgs(args)
	assert.Equal(t, nil, err)
	assert.Equal(t, params, parsed)

	parsed, err = ParseWorkerArgs([]string{"--step-execution-id", "step-2", "-partition-key", "partition1", "--resource=b.csv"})
	assert.Equal(t, nil, err)
	assert.Equal(t, "step-2", parsed.StepExecutionId)
	assert.Equal(t, "partition1", parsed.PartitionKey)
	assert.Equal(t, "b.csv", parsed.ResourceLocator)

	_, err = ParseWorkerArgs([]string{"--partition-key=partition0"})
	assert.T(t, IsCode(err, ErrCodeConfiguration))
}
