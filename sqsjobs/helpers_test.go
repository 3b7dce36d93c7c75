package sqsjobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func observedLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String(StringType), StringValue: aws.String(v)}
}

func message(id, receipt, count, body string, attrs map[string]types.MessageAttributeValue) types.Message {
	m := types.Message{
		MessageId:         aws.String(id),
		Body:              aws.String(body),
		MessageAttributes: attrs,
		Attributes:        map[string]string{},
	}
	if receipt != "" {
		m.ReceiptHandle = aws.String(receipt)
	}
	if count != "" {
		m.Attributes[ApproximateReceiveCount] = count
	}
	return m
}

func seconds(n ...int) []time.Duration {
	out := make([]time.Duration, 0, len(n))
	for _, v := range n {
		out = append(out, time.Duration(v)*time.Second)
	}
	return out
}
