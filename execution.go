package batchdeployer

import (
	"github.com/chararch/batchdeployer/status"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"sort"
	"time"
)

// JobExecution one run of a partitioned job
type JobExecution struct {
	JobExecutionId string
	JobName        string
	JobKey         string
	JobParams      map[string]interface{}
	JobStatus      status.BatchStatus
	Outcome        *AggregatedOutcome
	FailureCause   string
	CreateTime     time.Time
	StartTime      time.Time
	EndTime        time.Time
	LastUpdated    time.Time
	Version        int64
}

func (e *JobExecution) start() {
	e.StartTime = time.Now()
	e.JobStatus = status.STARTED
}

func (e *JobExecution) finish(jobStatus status.BatchStatus, err error) {
	e.JobStatus = jobStatus
	if err != nil {
		e.JobStatus = status.FAILED
		e.FailureCause = err.Error()
	}
	e.EndTime = time.Now()
}

// StepExecution progress and terminal status of one partition
type StepExecution struct {
	StepExecutionId string
	JobExecutionId  string
	StepName        string
	PartitionKey    string
	ResourceLocator string
	StepStatus      status.BatchStatus
	ReadCount       int64
	WriteCount      int64
	FilterCount     int64
	CommitCount     int64
	RollbackCount   int64
	FailureCause    string
	CreateTime      time.Time
	StartTime       time.Time
	EndTime         time.Time
	LastUpdated     time.Time
	Version         int64
}

func (execution *StepExecution) copy() *StepExecution {
	c := *execution
	return &c
}

// AggregatedOutcome terminal statuses of all partitions of a step
type AggregatedOutcome struct {
	OverallStatus     status.BatchStatus
	PartitionStatuses map[string]*StepExecution
}

func newAggregatedOutcome() *AggregatedOutcome {
	return &AggregatedOutcome{
		OverallStatus:     status.COMPLETED,
		PartitionStatuses: make(map[string]*StepExecution),
	}
}

func (o *AggregatedOutcome) add(execution *StepExecution) {
	o.PartitionStatuses[execution.PartitionKey] = execution
	o.OverallStatus = o.OverallStatus.And(execution.StepStatus)
}

// Failed keys of the partitions that ended FAILED, sorted
func (o *AggregatedOutcome) Failed() []string {
	keys := make([]string, 0)
	for key, execution := range o.PartitionStatuses {
		if execution.StepStatus == status.FAILED {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Err combine the failure causes of all failed partitions, nil if every partition completed
func (o *AggregatedOutcome) Err() error {
	var result error
	for _, key := range o.Failed() {
		cause := o.PartitionStatuses[key].FailureCause
		result = multierror.Append(result, errors.Errorf("partition %v: %v", key, cause))
	}
	return result
}
