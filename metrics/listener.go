package metrics

import (
	"github.com/chararch/batchdeployer"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace namespace of all metrics when none is given
const DefaultNamespace = "batchdeployer"

// Listener exports job, partition, step and chunk events as prometheus metrics
type Listener struct {
	jobs            *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	partitions      *prometheus.CounterVec
	plannedGauge    prometheus.Gauge
	activeSteps     prometheus.Gauge
	steps           *prometheus.CounterVec
	itemsRead       prometheus.Counter
	itemsWritten    prometheus.Counter
	itemsFiltered   prometheus.Counter
	rollbacks       prometheus.Counter
	chunks          prometheus.Counter
	chunkErrors     *prometheus.CounterVec
	partitionErrors prometheus.Counter
}

var (
	_ batchdeployer.JobListener       = (*Listener)(nil)
	_ batchdeployer.PartitionListener = (*Listener)(nil)
	_ batchdeployer.StepListener      = (*Listener)(nil)
	_ batchdeployer.ChunkListener     = chunkListener{}
)

// NewListener create the metrics and register them on reg, prometheus.DefaultRegisterer when nil
func NewListener(reg prometheus.Registerer, namespace string) *Listener {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	l := &Listener{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "executions_total",
			Help:      "Finished job executions by status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Duration of finished job executions in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "partitions_total",
			Help:      "Partitions that reached a terminal status, by status.",
		}, []string{"status"}),
		plannedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "partitions_planned",
			Help:      "Number of partitions planned by the last partitioning.",
		}),
		partitionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "partition_failures_total",
			Help:      "Partitions that ended FAILED.",
		}),
		activeSteps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "steps_active",
			Help:      "Step executions currently running in this process.",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "steps_total",
			Help:      "Finished step executions by status.",
		}, []string{"status"}),
		itemsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "items_read_total",
			Help:      "Items read by finished step executions.",
		}),
		itemsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "items_written_total",
			Help:      "Items written by finished step executions.",
		}),
		itemsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "items_filtered_total",
			Help:      "Items filtered by the processor of finished step executions.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "rollbacks_total",
			Help:      "Chunk transactions rolled back.",
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "chunks_total",
			Help:      "Chunks processed without error.",
		}),
		chunkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "chunk_errors_total",
			Help:      "Chunk errors by error code.",
		}, []string{"code"}),
	}
	reg.MustRegister(l.jobs, l.jobDuration, l.partitions, l.plannedGauge, l.partitionErrors,
		l.activeSteps, l.steps, l.itemsRead, l.itemsWritten, l.itemsFiltered, l.rollbacks,
		l.chunks, l.chunkErrors)
	return l
}

func (l *Listener) BeforeJob(execution *batchdeployer.JobExecution) batchdeployer.BatchError {
	return nil
}

func (l *Listener) AfterJob(execution *batchdeployer.JobExecution) batchdeployer.BatchError {
	l.jobs.WithLabelValues(string(execution.JobStatus)).Inc()
	if !execution.StartTime.IsZero() && execution.EndTime.After(execution.StartTime) {
		l.jobDuration.Observe(execution.EndTime.Sub(execution.StartTime).Seconds())
	}
	return nil
}

func (l *Listener) BeforePartition(jobExecutionId string, partitions batchdeployer.Partitions) batchdeployer.BatchError {
	l.plannedGauge.Set(float64(len(partitions)))
	return nil
}

func (l *Listener) AfterPartition(jobExecutionId string, outcome *batchdeployer.AggregatedOutcome) batchdeployer.BatchError {
	for _, execution := range outcome.PartitionStatuses {
		l.partitions.WithLabelValues(string(execution.StepStatus)).Inc()
	}
	return nil
}

func (l *Listener) OnError(execution *batchdeployer.StepExecution) {
	l.partitionErrors.Inc()
}

func (l *Listener) BeforeStep(execution *batchdeployer.StepExecution) batchdeployer.BatchError {
	l.activeSteps.Inc()
	return nil
}

func (l *Listener) AfterStep(execution *batchdeployer.StepExecution) batchdeployer.BatchError {
	l.activeSteps.Dec()
	l.steps.WithLabelValues(string(execution.StepStatus)).Inc()
	l.itemsRead.Add(float64(execution.ReadCount))
	l.itemsWritten.Add(float64(execution.WriteCount))
	l.itemsFiltered.Add(float64(execution.FilterCount))
	l.rollbacks.Add(float64(execution.RollbackCount))
	return nil
}

type chunkListener struct {
	l *Listener
}

// ChunkListener the chunk side of the listener, registered separately on the worker
func (l *Listener) ChunkListener() batchdeployer.ChunkListener {
	return chunkListener{l}
}

func (c chunkListener) BeforeChunk(chunkCtx *batchdeployer.ChunkContext) batchdeployer.BatchError {
	return nil
}

func (c chunkListener) AfterChunk(chunkCtx *batchdeployer.ChunkContext) batchdeployer.BatchError {
	c.l.chunks.Inc()
	return nil
}

func (c chunkListener) OnError(chunkCtx *batchdeployer.ChunkContext, err batchdeployer.BatchError) {
	c.l.chunkErrors.WithLabelValues(err.Code()).Inc()
}
