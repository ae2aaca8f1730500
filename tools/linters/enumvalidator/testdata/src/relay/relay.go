package relay

import "outbox"

func retryable(s outbox.OutboxStatus) bool {
	switch s { // want "switch on OutboxStatus is missing cases: OutboxStatusProcessing, OutboxStatusDead"
	case outbox.OutboxStatusPending, outbox.OutboxStatusFailed:
		return true
	case outbox.OutboxStatusProcessed:
		return false
	}
	return false
}

func allStates(s outbox.OutboxStatus) int {
	switch s {
	case outbox.OutboxStatusPending, outbox.OutboxStatusFailed:
		return 0
	case outbox.OutboxStatusProcessing:
		return 1
	case outbox.OutboxStatusProcessed, outbox.OutboxStatusDead:
		return 2
	}
	return -1
}

func markFailed(e *outbox.Entry) {
	var n int
	e.Status, n = "FAILED", 1 // want "enum field Status assigned string literal"
	e.RetryCount += n
}

func relabel(e *outbox.Entry) {
	e.Label = "urgent"
	switch e.Label {
	case "urgent":
	}
}

func fresh() outbox.Entry {
	return outbox.Entry{Status: outbox.OutboxStatusPending, Label: "new"}
}
