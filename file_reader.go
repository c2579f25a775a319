package batchdeployer

import (
	"github.com/chararch/batchdeployer/file"
)

type fileReader struct {
	locator string
	reader  file.FileItemReader
	handle  interface{}
}

// NewFileReaderFactory ReaderFactory reading each partition's resource through reader
func NewFileReaderFactory(reader file.FileItemReader) ReaderFactory {
	return func(partition PartitionDescriptor) (Reader, BatchError) {
		if partition.ResourceLocator == "" {
			return nil, NewBatchError(ErrCodeConfiguration, "partition:%v has no resource", partition.Key)
		}
		return &fileReader{locator: partition.ResourceLocator, reader: reader}, nil
	}
}

func (r *fileReader) Open(execution *StepExecution) BatchError {
	handle, err := r.reader.Open(r.locator)
	if err != nil {
		return NewBatchError(ErrCodeGeneral, "open file reader:%v err", r.locator, err)
	}
	r.handle = handle
	return nil
}

func (r *fileReader) Read(chunkCtx *ChunkContext) (interface{}, BatchError) {
	if r.handle == nil {
		return nil, NewBatchError(ErrCodeGeneral, "file reader:%v is not open", r.locator)
	}
	item, err := r.reader.ReadItem(r.handle)
	if err != nil {
		if file.IsMalformed(err) {
			return nil, NewBatchError(ErrCodeMalformedRecord, "read item from file:%v err", r.locator, err)
		}
		return nil, NewBatchError(ErrCodeGeneral, "read item from file:%v err", r.locator, err)
	}
	return item, nil
}

func (r *fileReader) Close(execution *StepExecution) BatchError {
	if r.handle == nil {
		return nil
	}
	handle := r.handle
	r.handle = nil
	if err := r.reader.Close(handle); err != nil {
		return NewBatchError(ErrCodeGeneral, "close file reader:%v err", r.locator, err)
	}
	return nil
}
