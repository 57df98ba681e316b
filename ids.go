package tracestore

import "github.com/google/uuid"

// newTraceID returns a new trace identifier: "trace-" followed by a UUIDv7
// (time-ordered, so trace IDs sort chronologically by creation).
func newTraceID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return "trace-" + id.String(), nil
}

// newSpanID returns a new span identifier: "span-" followed by a UUIDv4.
// Unlike trace IDs, span creation order within a trace is already captured
// by event seq, so span IDs need not be time-ordered.
func newSpanID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return "span-" + id.String(), nil
}

// newEventID returns a new event identifier: a bare UUIDv7.
func newEventID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
