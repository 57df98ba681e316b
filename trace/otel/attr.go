package otel

import "go.opentelemetry.io/otel/attribute"

func traceIDAttr(id string) attribute.KeyValue {
	return attribute.String("trace.trace_id", id)
}

func actorIDAttr(id string) attribute.KeyValue {
	return attribute.String("trace.actor_id", id)
}
