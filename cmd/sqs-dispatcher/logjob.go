package main

import (
	"context"

	sqs "github.com/roadrunner-server/sqs-dispatcher"
	"github.com/roadrunner-server/sqs-dispatcher/sqsjobs"
	"go.uber.org/zap"
)

// LogJob handles the default job class by logging the received job.
type LogJob struct {
	log *zap.Logger
}

var _ sqs.JobHandler = (*LogJob)(nil)

func (l *LogJob) Init(log sqs.Logger) error {
	l.log = log.NamedLogger(l.Name())
	return nil
}

func (l *LogJob) JobClass() string {
	return sqsjobs.DefaultJobClass
}

func (l *LogJob) Handle(_ context.Context, job *sqsjobs.Job) error {
	l.log.Info("job received",
		zap.String("id", job.ID),
		zap.String("class", job.Class),
		zap.Int("receive_count", job.ReceiveCount),
		zap.Any("attributes", job.Attributes),
		zap.String("body", job.Payload()),
	)
	return nil
}

func (l *LogJob) Name() string {
	return "log_job"
}
