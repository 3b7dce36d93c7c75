package sqsjobs

import (
	"context"
	stderr "errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/roadrunner-server/errors"
	"go.uber.org/zap"
)

const (
	// All - get all message attribute names
	All string = "All"
)

var _ Queue = (*Client)(nil)

// QueueState is a snapshot of the approximate queue counters.
type QueueState struct {
	Queue    string `json:"queue"`
	Active   int64  `json:"active"`
	Delayed  int64  `json:"delayed"`
	Reserved int64  `json:"reserved"`
}

// Client implements Queue on top of the AWS SDK.
type Client struct {
	log      *zap.Logger
	client   *sqs.Client
	queueURL *string
}

// NewClient builds the SQS client and resolves the queue URL. A queue which cannot be
// resolved is a fatal configuration error.
func NewClient(ctx context.Context, cfg *Config, log *zap.Logger) (*Client, error) {
	const op = errors.Op("new_sqs_client")

	client, err := checkEnv(ctx, cfg.Key, cfg.Secret, cfg.SessionToken, cfg.Endpoint, cfg.Region)
	if err != nil {
		return nil, errors.E(op, err)
	}

	c := &Client{
		log:    log,
		client: client,
	}

	switch {
	case cfg.Queue.URL != "":
		c.queueURL = aws.String(cfg.Queue.URL)
	case cfg.Queue.Declare:
		c.queueURL, err = createQueue(ctx, client, aws.String(cfg.Queue.Name), cfg.Queue.Attributes, cfg.Queue.Tags)
		if err != nil {
			return nil, errors.E(op, err)
		}
		// After you create a queue, you must wait at least one second
		// after the queue is created to be able to use the queue.
		time.Sleep(time.Second)
	default:
		c.queueURL, err = getQueueURL(ctx, client, aws.String(cfg.Queue.Name))
		if err != nil {
			return nil, errors.E(op, err)
		}
	}

	log.Debug("queue resolved", zap.Stringp("url", c.queueURL))
	return c, nil
}

// URL returns the resolved queue URL.
func (c *Client) URL() string {
	return *c.queueURL
}

func (c *Client) Receive(ctx context.Context, maxMessages, waitSeconds int32) ([]types.Message, error) {
	const op = errors.Op("sqs_receive")

	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              c.queueURL,
		MaxNumberOfMessages:   maxMessages,
		WaitTimeSeconds:       waitSeconds,
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeName(ApproximateReceiveCount)},
		MessageAttributeNames: []string{All},
	})
	if err != nil {
		return nil, classify(op, err)
	}

	return out.Messages, nil
}

func (c *Client) Delete(ctx context.Context, receipt string) error {
	const op = errors.Op("sqs_delete")

	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      c.queueURL,
		ReceiptHandle: aws.String(receipt),
	})

	return classify(op, err)
}

func (c *Client) ChangeVisibility(ctx context.Context, receipt string, timeout int32) error {
	const op = errors.Op("sqs_change_visibility")

	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          c.queueURL,
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: timeout,
	})

	return classify(op, err)
}

func (c *Client) State(ctx context.Context) (*QueueState, error) {
	const op = errors.Op("sqs_state")

	attr, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: c.queueURL,
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return nil, classify(op, err)
	}

	return stateFromAttributes(*c.queueURL, attr.Attributes), nil
}

func stateFromAttributes(queue string, attrs map[string]string) *QueueState {
	out := &QueueState{Queue: queue}

	nom, err := strconv.Atoi(attrs[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	if err == nil {
		out.Active = int64(nom)
	}

	delayed, err := strconv.Atoi(attrs[string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)])
	if err == nil {
		out.Delayed = int64(delayed)
	}

	nv, err := strconv.Atoi(attrs[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)])
	if err == nil {
		out.Reserved = int64(nv)
	}

	return out
}

// checkEnv uses static credentials when both key and secret are set, otherwise the default
// AWS credential chain (env, shared config, IMDS).
func checkEnv(ctx context.Context, key, secret, sessionToken, endpoint, region string) (*sqs.Client, error) {
	const op = errors.Op("check_env")

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	opts := make([]func(*config.LoadOptions) error, 0, 2)
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, sessionToken)))
	}

	awsConf, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.E(op, err)
	}

	// config with retries
	return sqs.NewFromConfig(awsConf, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.Retryer = retry.NewStandard(func(opts *retry.StandardOptions) {
			opts.MaxAttempts = 3
			opts.MaxBackoff = time.Second * 2
		})
	}), nil
}

func createQueue(ctx context.Context, client *sqs.Client, queueName *string, attributes map[string]string, tags map[string]string) (*string, error) {
	const op = errors.Op("sqs_create_queue")

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	out, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: queueName, Attributes: attributes, Tags: tags})
	if err != nil {
		var qErr *types.QueueNameExists
		if stderr.As(err, &qErr) {
			return getQueueURL(ctx, client, queueName)
		}

		return nil, classify(op, err)
	}

	return out.QueueUrl, nil
}

func getQueueURL(ctx context.Context, client *sqs.Client, queueName *string) (*string, error) {
	const op = errors.Op("sqs_get_queue_url")

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: queueName})
	if err != nil {
		return nil, classify(op, err)
	}

	return out.QueueUrl, nil
}
