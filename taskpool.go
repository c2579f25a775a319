package batchdeployer

import (
	"context"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"runtime/debug"
)

// taskPool bounded pool running partition tasks, Submit blocks while every slot is busy
type taskPool struct {
	pool *ants.Pool
}

func newTaskPool(size int) (*taskPool, BatchError) {
	if size < 1 {
		return nil, NewBatchError(ErrCodeConfiguration, "task pool size must be positive, got %v", size)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, NewBatchError(ErrCodeConfiguration, "create task pool of size:%v failed", size, err)
	}
	return &taskPool{
		pool: pool,
	}, nil
}

// Future get result in future
type Future interface {
	Get() (interface{}, error)
}

type futureImpl struct {
	ch <-chan futureResult
}

type futureResult struct {
	val interface{}
	err error
}

func (f *futureImpl) Get() (interface{}, error) {
	result := <-f.ch
	return result.val, result.err
}

func (pool *taskPool) Submit(ctx context.Context, task func() (interface{}, error)) Future {
	result := make(chan futureResult, 1)
	err := pool.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "panic on task executing, err:%v, stack:%v", r, string(debug.Stack()))
				result <- futureResult{err: errors.Errorf("panic:%v", r)}
			}
		}()
		val, err := task()
		result <- futureResult{val: val, err: err}
	})
	if err != nil {
		result <- futureResult{err: errors.Wrap(err, "submit task failed")}
	}
	return &futureImpl{
		ch: result,
	}
}

func (pool *taskPool) Release() {
	pool.pool.Release()
}
