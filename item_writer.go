package batchdeployer

import (
	"context"
	"database/sql"
)

// TxItemWriter writes items using the chunk's sql transaction
type TxItemWriter interface {
	Write(ctx context.Context, tx *sql.Tx, items []interface{}) error
}

type sqlItemWriter struct {
	writer TxItemWriter
}

// NewSQLItemWriter Writer running writer inside the chunk transaction, the worker must use DefaultTxManager
func NewSQLItemWriter(writer TxItemWriter) Writer {
	return &sqlItemWriter{writer: writer}
}

func (w *sqlItemWriter) Write(items []interface{}, chunkCtx *ChunkContext) BatchError {
	tx, ok := chunkCtx.Tx.(*sql.Tx)
	if !ok || tx == nil {
		return NewBatchError(ErrCodeWrite, "no sql transaction in chunk of partition:%v", chunkCtx.Partition.Key)
	}
	if err := w.writer.Write(chunkCtx.Context(), tx, items); err != nil {
		return NewBatchError(ErrCodeWrite, "write %v items of partition:%v failed", len(items), chunkCtx.Partition.Key, err)
	}
	return nil
}
