// Package sqsjobs fetches jobs from an AWS SQS queue and dispatches them to
// handlers by job class.
//
// [Dispatcher] runs fetch cycles against a [Queue] in one of three drive modes
// (loop, deplete, single). Each received message is parsed into a [Job] by the
// [Parser], handed to the [Handler] registered for its class, and then either
// deleted through the [Deleter] or made visible again after a Fibonacci delay
// by the [Retrier]. Messages with no registered handler are deleted.
//
// [Client] is the AWS SDK backed [Queue]. It resolves or declares the queue
// described by [Config] and reports approximate queue depth.
//
// Fetch and dispatch spans are emitted through OpenTelemetry. Trace context
// is extracted from message attributes with the W3C TraceContext, Baggage and
// Jaeger propagators.
package sqsjobs
