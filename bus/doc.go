// Package bus implements the inter-agent message bus: the single
// serialization point through which all message state changes flow.
//
// Producers call Send to enqueue work for a target agent (or broadcast a
// notification to every registered agent). Workers poll with Receive, take
// ownership with MarkProcessing (an atomic compare-and-set that exactly one
// of N concurrent callers wins), and report back with MarkCompleted or
// MarkFailed. Failures run through the retry scheduler: requeue with a
// backoff delay, or dead-letter once the attempt budget is exhausted.
//
// Delivery is at-least-once. A worker that crashes after executing its
// handler but before MarkCompleted leaves the message in processing; the
// reaper eventually reclaims it and the message is redelivered. Handlers
// must therefore be idempotent.
//
// Dead-lettered messages never re-enter the flow on their own. They are
// exposed through ListDeadLetters, Requeue, and Purge, and optionally
// announced to the originating agent as an ERROR notification by the worker
// loop. They are never surfaced synchronously to the producer.
package bus
