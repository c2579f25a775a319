package batchdeployer

import (
	"github.com/chararch/batchdeployer/internal/logs"
	"os"
)

//log
var logger logs.Logger = logs.NewLogger(os.Stdout, logs.Info)

//SetLogger set a logger instance for the engine
func SetLogger(l logs.Logger) {
	if l == nil {
		panic("logger must not be nil")
	}
	logger = l
}

//defaults taken when a config leaves the value zero
const (
	DefaultChunkSize    = 100
	DefaultMaxWorkers   = 3
	DefaultStepName     = "step1"
	DefaultJobName      = "partitionedJob"
	DefaultWorkerPrefix = "PartitionedBatchJobTask"
)
