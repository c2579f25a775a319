package batchdeployer

import (
	"context"
	"database/sql"
)

// TransactionManager begin and end the transaction of every chunk
type TransactionManager interface {
	BeginTx(ctx context.Context) (tx interface{}, err BatchError)
	Commit(tx interface{}) BatchError
	Rollback(tx interface{}) BatchError
}

// DefaultTxManager runs each chunk in a *sql.Tx of db, handed to writers through ChunkContext.Tx
type DefaultTxManager struct {
	db *sql.DB
}

// NewTransactionManager TransactionManager over db
func NewTransactionManager(db *sql.DB) TransactionManager {
	return &DefaultTxManager{db: db}
}

func (tm *DefaultTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "begin chunk transaction failed", err)
	}
	return tx, nil
}

func sqlTx(tx interface{}) (*sql.Tx, BatchError) {
	t, ok := tx.(*sql.Tx)
	if !ok || t == nil {
		return nil, NewBatchError(ErrCodeGeneral, "not a sql transaction: %T", tx)
	}
	return t, nil
}

// Commit a failed commit is a write error of the chunk
func (tm *DefaultTxManager) Commit(tx interface{}) BatchError {
	t, e := sqlTx(tx)
	if e != nil {
		return e
	}
	if err := t.Commit(); err != nil {
		return NewBatchError(ErrCodeWrite, "commit chunk transaction failed", err)
	}
	return nil
}

// Rollback rolling back a finished transaction is not an error
func (tm *DefaultTxManager) Rollback(tx interface{}) BatchError {
	t, e := sqlTx(tx)
	if e != nil {
		return e
	}
	if err := t.Rollback(); err != nil && err != sql.ErrTxDone {
		return NewBatchError(ErrCodeDbFail, "rollback chunk transaction failed", err)
	}
	return nil
}

type nopTxManager struct{}

// NewNopTransactionManager TransactionManager for writers without a transactional sink
func NewNopTransactionManager() TransactionManager {
	return nopTxManager{}
}

func (nopTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	return nil, nil
}

func (nopTxManager) Commit(tx interface{}) BatchError {
	return nil
}

func (nopTxManager) Rollback(tx interface{}) BatchError {
	return nil
}
