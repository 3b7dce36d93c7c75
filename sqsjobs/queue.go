package sqsjobs

import (
	"context"
	stderr "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/roadrunner-server/errors"
)

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/roadrunner-server/sqs-dispatcher/sqsjobs Queue

const (
	// ReceiptHandleIsInvalid AWS error code
	ReceiptHandleIsInvalid string = "ReceiptHandleIsInvalid"
	// NonExistentQueue AWS error code
	NonExistentQueue string = "AWS.SimpleQueueService.NonExistentQueue"
	// QueueDoesNotExist AWS error code (JSON protocol)
	QueueDoesNotExist string = "QueueDoesNotExist"
)

// Queue is the transport the dispatcher consumes. Implementations must return *QueueError
// for failures so the caller can branch on the error kind.
type Queue interface {
	// Receive long-polls for up to maxMessages messages, requesting the receive count
	// system attribute and all message attributes.
	Receive(ctx context.Context, maxMessages, waitSeconds int32) ([]types.Message, error)
	// Delete acknowledges a message by its receipt handle.
	Delete(ctx context.Context, receipt string) error
	// ChangeVisibility sets the remaining visibility window of an in-flight message.
	ChangeVisibility(ctx context.Context, receipt string, timeout int32) error
}

// ErrorKind classifies transport failures.
type ErrorKind uint8

const (
	// KindOther is any transient or unknown failure.
	KindOther ErrorKind = iota
	// KindInvalidReceipt means the receipt handle no longer refers to an in-flight delivery.
	KindInvalidReceipt
	// KindNonExistentQueue means the queue was deleted or never existed.
	KindNonExistentQueue
)

func (k ErrorKind) String() string {
	switch k {
	case KindOther:
		return "other"
	case KindInvalidReceipt:
		return "invalid_receipt"
	case KindNonExistentQueue:
		return "non_existent_queue"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// QueueError is returned by every Queue operation.
type QueueError struct {
	Op   errors.Op
	Kind ErrorKind
	Err  error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// IsInvalidReceipt reports whether err is a transport error of kind KindInvalidReceipt.
func IsInvalidReceipt(err error) bool {
	return kindOf(err) == KindInvalidReceipt
}

func kindOf(err error) ErrorKind {
	var qErr *QueueError
	if stderr.As(err, &qErr) {
		return qErr.Kind
	}

	return KindOther
}

// classify converts an AWS SDK error into a *QueueError.
func classify(op errors.Op, err error) error {
	if err == nil {
		return nil
	}

	kind := KindOther
	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case ReceiptHandleIsInvalid:
			kind = KindInvalidReceipt
		case NonExistentQueue, QueueDoesNotExist:
			kind = KindNonExistentQueue
		}
	}

	return &QueueError{Op: op, Kind: kind, Err: err}
}
