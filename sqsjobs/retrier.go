package sqsjobs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/roadrunner-server/sqs-dispatcher/backoff"
	"go.uber.org/zap"
)

const maxVisibilityTimeout int = 43200

// Retrier makes failed messages visible again sooner by shrinking their visibility timeout
// to the Fibonacci delay of their receive count.
type Retrier struct {
	queue Queue
	log   *zap.Logger
}

func NewRetrier(queue Queue, log *zap.Logger) *Retrier {
	return &Retrier{
		queue: queue,
		log:   log,
	}
}

// Retry never retries itself: if the visibility update fails, the message is redelivered
// after its original visibility timeout.
func (r *Retrier) Retry(ctx context.Context, msg *types.Message) {
	receipt, ok := receiptOf(msg)
	if !ok {
		return
	}

	id := messageID(msg)
	delay := RedeliveryDelay(receiveCount(msg))
	r.log.Error("delaying message retry", zap.String("id", id), zap.Int("seconds", delay))

	err := r.queue.ChangeVisibility(ctx, receipt, int32(delay)) //nolint:gosec
	switch {
	case err == nil:
		return
	case IsInvalidReceipt(err):
		r.log.Error("message was already removed from the queue", zap.String("id", id), zap.Error(err))
	default:
		r.log.Error("failed to update message visibility timeout, message will be retried after current visibility timeout", zap.String("id", id), zap.Error(err))
	}
}

// RedeliveryDelay returns the visibility timeout, in seconds, for a message delivered
// receiveCount times. An unknown count (0) gives no delay.
func RedeliveryDelay(receiveCount int) int {
	return backoff.FibonacciCapped(receiveCount-1, maxVisibilityTimeout)
}
