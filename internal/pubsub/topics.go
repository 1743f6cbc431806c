package pubsub

import "fmt"

// Topic constants and helper functions for subscription topics.
// Topics follow a hierarchical naming convention: {resource}:{id}

const (
	prefixRun   = "run"
	prefixAlert = "alert"
)

// RunTopic returns the topic carrying log lines and status transitions for
// one run. Subscribers receive RunLogEvent and RunStatusEvent messages.
func RunTopic(runID string) string {
	return fmt.Sprintf("%s:%s", prefixRun, runID)
}

// AlertTopic returns the topic for alert events scoped to one robot (the
// GlobalAlertRobot sentinel id for alerts with no single robot owner).
func AlertTopic(robotID string) string {
	return fmt.Sprintf("%s:%s", prefixAlert, robotID)
}
