package sqsjobs

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/roadrunner-server/sqs-dispatcher/backoff"
	"go.uber.org/zap"
)

// Deleter acknowledges messages. Transient failures are retried without bound using the
// Fibonacci backoff; an invalid receipt handle ends the attempt.
type Deleter struct {
	queue    Queue
	log      *zap.Logger
	sleep    Sleeper
	strategy backoff.Strategy
}

func NewDeleter(queue Queue, log *zap.Logger, sleeper Sleeper) *Deleter {
	if sleeper == nil {
		sleeper = sleep
	}

	return &Deleter{
		queue:    queue,
		log:      log,
		sleep:    sleeper,
		strategy: backoff.NewFibonacci(time.Second),
	}
}

// Delete returns once the message is acknowledged, its receipt turned out to be invalid,
// or ctx is done. It reports true only when the queue confirmed the deletion.
// Messages without a receipt handle are ignored.
func (d *Deleter) Delete(ctx context.Context, msg *types.Message) bool {
	receipt, ok := receiptOf(msg)
	if !ok {
		return false
	}

	id := messageID(msg)
	for failures := 0; ; failures++ {
		err := d.queue.Delete(ctx, receipt)
		if err == nil {
			d.log.Debug("message acknowledged", zap.String("id", id), zap.Int("failures", failures))
			return true
		}

		if IsInvalidReceipt(err) {
			d.log.Error("message is already removed from the queue", zap.String("id", id), zap.Error(err))
			return false
		}

		wait := d.strategy.Delay(failures)
		d.log.Error("failed to delete message", zap.String("id", id), zap.Error(err), zap.Duration("wait", wait))

		if errS := d.sleep(ctx, wait); errS != nil {
			d.log.Warn("message deletion abandoned", zap.String("id", id), zap.Error(errS))
			return false
		}
	}
}
