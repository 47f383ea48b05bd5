package broker

import "fmt"

const (
	// ExchangeCoordination is the exchange all coordination queues bind to.
	ExchangeCoordination = "shipyard.x.coordination"
)

// NodeQueueName is the name of the queue an agent consumes coordination
// orders from.
func NodeQueueName(nodeID string) string {
	return fmt.Sprintf("shipyard.q.node.%s", nodeID)
}

// CoordinationQueueName is the name of the reply queue the scheduler consumes
// READY signals from for a given multi-instance task.
func CoordinationQueueName(jobID, taskID string) string {
	return fmt.Sprintf("shipyard.q.coordination.%s.%s", jobID, taskID)
}
