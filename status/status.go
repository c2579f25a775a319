package status

//BatchStatus status of job or step execution
type BatchStatus string

const (
	//STARTING the execution record is created, the worker has not started reading yet
	STARTING BatchStatus = "STARTING"
	//STARTED job or step have be started and is running
	STARTED BatchStatus = "STARTED"
	//COMPLETED job or step have finished successfully
	COMPLETED BatchStatus = "COMPLETED"
	//FAILED job or step have failed
	FAILED BatchStatus = "FAILED"
)

var statuses = map[BatchStatus]int{
	STARTING:  0,
	STARTED:   1,
	COMPLETED: 2,
	FAILED:    3,
}

var transitions = map[BatchStatus][]BatchStatus{
	STARTING: {STARTED, FAILED},
	STARTED:  {COMPLETED, FAILED},
}

//And combine two statuses, the result is the more severe one
func (s BatchStatus) And(other BatchStatus) BatchStatus {
	i1, ok1 := statuses[s]
	i2, ok2 := statuses[other]
	if ok1 && ok2 {
		if i1 < i2 {
			return other
		} else {
			return s
		}
	} else if ok1 {
		return s
	} else if ok2 {
		return other
	}
	return s
}

//IsTerminal whether no further transition is allowed
func (s BatchStatus) IsTerminal() bool {
	return s == COMPLETED || s == FAILED
}

//Valid whether s is a known status
func (s BatchStatus) Valid() bool {
	_, ok := statuses[s]
	return ok
}

//CanTransitionTo whether next is reachable from s in one step
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
