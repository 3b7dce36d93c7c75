// Package sqs runs an AWS SQS job dispatcher as an Endure plugin.
//
// The plugin reads the "sqs" configuration section, connects to (or declares)
// the queue and drives a [sqsjobs.Dispatcher] in the configured drive mode.
// Job handlers are collected from the container: every plugin implementing
// [JobHandler] is bound to the job class it reports. A plugin implementing
// [Tracer] supplies the TracerProvider for fetch and dispatch spans.
//
// When status.address is set, queue depth and dispatcher counters are served
// on /healthz and /stats.
package sqs
