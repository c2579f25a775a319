package batchdeployer

import (
	"context"
)

// ChunkContext state of the chunk being processed, handed to readers, processors and writers
type ChunkContext struct {
	ctx           context.Context
	StepExecution *StepExecution
	Partition     PartitionDescriptor
	//Tx the transaction of current chunk, a *sql.Tx when the worker uses DefaultTxManager
	Tx  interface{}
	End bool
}

// Context the context of the worker run
func (c *ChunkContext) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Reader read items one by one, a nil item means end of input
type Reader interface {
	Read(chunkCtx *ChunkContext) (interface{}, BatchError)
}

// Processor transform an item, returning nil filters the item out
type Processor interface {
	Process(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError)
}

// Writer write all items of a chunk within the chunk transaction
type Writer interface {
	Write(items []interface{}, chunkCtx *ChunkContext) BatchError
}

// OpenCloser implemented by readers and writers holding resources
type OpenCloser interface {
	Open(execution *StepExecution) BatchError
	Close(execution *StepExecution) BatchError
}

// ReaderFactory build the reader of one partition
type ReaderFactory func(partition PartitionDescriptor) (Reader, BatchError)

// WriterFactory build the writer of one partition
type WriterFactory func(partition PartitionDescriptor) (Writer, BatchError)

// SharedWriter WriterFactory returning the same writer for every partition
func SharedWriter(writer Writer) WriterFactory {
	return func(partition PartitionDescriptor) (Writer, BatchError) {
		return writer, nil
	}
}

// ProcessorFunc adapt a function to Processor
type ProcessorFunc func(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError)

func (f ProcessorFunc) Process(item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
	return f(item, chunkCtx)
}
