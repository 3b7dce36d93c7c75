package sqsjobs

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	StringType              string = "String"
	NumberType              string = "Number"
	BinaryType              string = "Binary"
	ApproximateReceiveCount string = "ApproximateReceiveCount"
	// DefaultJobClass is used when no configured attribute names the job class.
	DefaultJobClass string = "default"
	// UnknownMessageID replaces a missing message identifier.
	UnknownMessageID string = "Unknown_Message_ID"
)

// Handler processes a single job. Returning an error (or panicking) makes the message
// eligible for redelivery; returning nil acknowledges it.
type Handler func(ctx context.Context, job *Job) error

// Job is the normalized, read-only view of a received message.
type Job struct {
	// ID is the SQS message id, or UnknownMessageID.
	ID string
	// Class selects the handler.
	Class string
	// Attributes holds the String and Number message attributes.
	Attributes map[string]string
	// Body is a string for the string body format, or the decoded value
	// (map[string]any, []any, float64, ...) for the json body format.
	Body any
	// ReceiveCount is the number of deliveries reported by SQS, 0 if unknown.
	ReceiveCount int
	// Message is the original SQS message. It must not be modified.
	Message *types.Message
}

// Payload returns the raw message body.
func (j *Job) Payload() string {
	if j.Message == nil {
		return ""
	}

	return checkBody(j.Message.Body)
}

func messageID(msg *types.Message) string {
	if msg.MessageId == nil || *msg.MessageId == "" {
		return UnknownMessageID
	}

	return *msg.MessageId
}

func receiptOf(msg *types.Message) (string, bool) {
	if msg.ReceiptHandle == nil || *msg.ReceiptHandle == "" {
		return "", false
	}

	return *msg.ReceiptHandle, true
}

// receiveCount returns the ApproximateReceiveCount system attribute, 0 when absent or malformed.
func receiveCount(msg *types.Message) int {
	val, ok := msg.Attributes[ApproximateReceiveCount]
	if !ok {
		return 0
	}

	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return 0
	}

	return n
}

func checkBody(body *string) string {
	if body == nil {
		return ""
	}
	return *body
}
