package batchdeployer

import (
	"fmt"
	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
	"testing"
)

func TestBatchErr_Format(t *testing.T) {
	batchErr := NewBatchError(ErrCodeGeneral, "new error")
	assert.Equal(t, ErrCodeGeneral, batchErr.Code())
	assert.Equal(t, "new error", batchErr.Message())
	assert.Equal(t, "batch err, code:general, message:new error", batchErr.Error())
	assert.T(t, len(batchErr.StackTrace()) > 0)

	err := fmt.Errorf("some error raised from db")
	batchErr2 := NewBatchError(ErrCodeDbFail, "wrap error", err)
	assert.Equal(t, "wrap error", batchErr2.Message())
	assert.Equal(t, "batch err, code:db_fail, message:wrap error: some error raised from db", batchErr2.Error())
	assert.Equal(t, err, errors.Cause(batchErr2))

	batchErr3 := NewBatchError(ErrCodeWrite, "write chunk:%v of step:%v", 3, "step1", err)
	assert.Equal(t, "write chunk:3 of step:step1", batchErr3.Message())
	assert.T(t, errors.Is(batchErr3, err))
	fmt.Printf("batchErr3 detail: %+v\n", batchErr3)
}

func TestIsCode(t *testing.T) {
	err := NewBatchError(ErrCodeLaunch, "launch failed")
	assert.T(t, IsCode(err, ErrCodeLaunch))
	assert.T(t, !IsCode(err, ErrCodeWrite))
	assert.T(t, IsCode(errors.Wrap(err, "outer"), ErrCodeLaunch))
	assert.T(t, !IsCode(fmt.Errorf("plain"), ErrCodeLaunch))
	assert.T(t, !IsCode(nil, ErrCodeLaunch))
}

func TestAsBatchError(t *testing.T) {
	assert.Equal(t, nil, AsBatchError(ErrCodeWrite, nil))

	be := NewBatchError(ErrCodeMalformedRecord, "bad row")
	assert.Equal(t, be, AsBatchError(ErrCodeWrite, be))

	converted := AsBatchError(ErrCodeWrite, fmt.Errorf("duplicate key"))
	assert.Equal(t, ErrCodeWrite, converted.Code())
	assert.Equal(t, "duplicate key", converted.Message())
}
