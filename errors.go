package batchdeployer

import (
	"fmt"
	"github.com/pkg/errors"
	"io"
)

// BatchError error type used across the engine, carrying a code to classify the failure
type BatchError interface {
	Code() string
	Message() string
	Error() string
	StackTrace() errors.StackTrace
}

type batchErr struct {
	code string
	msg  string
	err  error
}

func (err *batchErr) Code() string {
	return err.code
}

func (err *batchErr) Message() string {
	return err.msg
}

func (err *batchErr) Error() string {
	return fmt.Sprintf("batch err, code:%v, message:%v", err.code, err.err.Error())
}

func (err *batchErr) Cause() error {
	return errors.Cause(err.err)
}

func (err *batchErr) Unwrap() error {
	return err.err
}

func (err *batchErr) StackTrace() errors.StackTrace {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	if st, ok := err.err.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

func (err *batchErr) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			io.WriteString(s, "code:"+err.code+", ")
			fmt.Fprintf(s, "%+v", err.err)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, err.Error())
	case 'q':
		fmt.Fprintf(s, "%q", err.Error())
	}
}

// NewBatchError create a BatchError. msg is formatted with args, if the last arg is an error it is kept as the cause.
func NewBatchError(code string, msg string, args ...interface{}) BatchError {
	var cause error
	if len(args) > 0 {
		if e, ok := args[len(args)-1].(error); ok {
			cause = e
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	var err error
	if cause != nil {
		err = errors.Wrap(cause, msg)
	} else {
		err = errors.New(msg)
	}
	return &batchErr{code: code, msg: msg, err: err}
}

// AsBatchError convert err to BatchError, keeping err as is when it is already a BatchError
func AsBatchError(code string, err error) BatchError {
	if err == nil {
		return nil
	}
	var be BatchError
	if errors.As(err, &be) {
		return be
	}
	return NewBatchError(code, err.Error(), err)
}

// IsCode report whether err or any error it wraps is a BatchError with the code
func IsCode(err error, code string) bool {
	var be BatchError
	if errors.As(err, &be) {
		return be.Code() == code
	}
	return false
}

const (
	ErrCodeConfiguration     = "configuration"
	ErrCodeLaunch            = "launch"
	ErrCodeMalformedRecord   = "malformed_record"
	ErrCodeWrite             = "write"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeNotFound          = "not_found"
	ErrCodeConcurrency       = "concurrency"
	ErrCodeDbFail            = "db_fail"
	ErrCodeGeneral           = "general"
)
