package batchdeployer

//JobListener job listener
type JobListener interface {
	//BeforeJob execute before job start
	BeforeJob(execution *JobExecution) BatchError
	//AfterJob execute after job end either normally or abnormally
	AfterJob(execution *JobExecution) BatchError
}

//StepListener listener of a worker's step execution
type StepListener interface {
	//BeforeStep execute after the execution is STARTED and before the first chunk
	BeforeStep(execution *StepExecution) BatchError
	//AfterStep execute after the execution reached a terminal status
	AfterStep(execution *StepExecution) BatchError
}

//ChunkListener chunk listener
type ChunkListener interface {
	//BeforeChunk execute before start of a chunk
	BeforeChunk(context *ChunkContext) BatchError
	//AfterChunk execute after a chunk is processed, before commit
	AfterChunk(context *ChunkContext) BatchError
	//OnError execute when an error occurred during a chunk
	OnError(context *ChunkContext, err BatchError)
}

//PartitionListener listener of the manager side partition handling
type PartitionListener interface {
	//BeforePartition execute before any worker is launched
	BeforePartition(jobExecutionId string, partitions Partitions) BatchError
	//AfterPartition execute after all partitions reached a terminal status
	AfterPartition(jobExecutionId string, outcome *AggregatedOutcome) BatchError
	//OnError execute for every partition ending FAILED
	OnError(execution *StepExecution)
}
