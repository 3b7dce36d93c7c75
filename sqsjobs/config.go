package sqsjobs

import (
	"net/url"

	"github.com/roadrunner-server/errors"
)

const (
	defaultWaitTime      int32 = 5
	defaultMaxFetchDelay int   = 60
	maxWaitTime          int32 = 20
	// batchLimit is the maximum number of messages SQS returns per receive call.
	batchLimit int32 = 10
)

// DriveMode governs how many fetch cycles a dispatcher run executes.
type DriveMode string

const (
	// DriveLoop fetches forever.
	DriveLoop DriveMode = "loop"
	// DriveDeplete fetches until the queue is empty or fetching keeps failing.
	DriveDeplete DriveMode = "deplete"
	// DriveSingle runs exactly one fetch cycle.
	DriveSingle DriveMode = "single"
)

// Config is used to parse the sqs section of the configuration
type Config struct {
	// global, passed through to the AWS SDK
	Key          string `yaml:"key"`
	Secret       string `yaml:"secret"`
	Region       string `yaml:"region"`
	SessionToken string `yaml:"session_token"`
	Endpoint     string `yaml:"endpoint"`

	Queue   QueueConfig   `yaml:"queue"`
	Message MessageConfig `yaml:"message"`
}

type QueueConfig struct {
	// URL of the queue. Takes precedence over Name.
	URL string `yaml:"url"`
	// Name is resolved into a URL through GetQueueUrl when URL is empty.
	Name string `yaml:"name"`
	// Declare creates the queue by Name (with Attributes and Tags) instead of only resolving it.
	Declare bool `yaml:"declare"`
	// CreateQueue attributes, lowercase names are accepted (visibilitytimeout, redrivepolicy, ...).
	Attributes map[string]string `yaml:"attributes"`
	Tags       map[string]string `yaml:"tags"`

	// The duration (in seconds) for which the call waits for a message to arrive
	// in the queue before returning. Valid values: 1 to 20. Default: 5.
	LongPollingTimeSeconds int32 `yaml:"long_polling_time_seconds"`
	// Upper bound (in seconds) of the backoff between failed fetches. 0 disables the delay.
	// Default: 60.
	MaxFetchingDelaySeconds *int `yaml:"max_fetching_delay_seconds"`
	// DriveMode is one of loop, deplete (default) or single.
	DriveMode DriveMode `yaml:"drive_mode"`
	// MaxFetchingRetry is the number of consecutive fetch failures tolerated in deplete mode.
	MaxFetchingRetry int `yaml:"max_fetching_retry"`
	// AwaitDeletion keeps a fetch cycle open until every acknowledgement (including its
	// retries) has finished. When false, acknowledgements run in the background and only
	// the dispatcher run waits for them. Default: true.
	AwaitDeletion *bool `yaml:"await_deletion"`
}

type MessageConfig struct {
	// JobClassAttributeName names the message attribute holding the job class.
	JobClassAttributeName string `yaml:"job_class_attribute_name"`
	// BodyFormat is json or string (default).
	BodyFormat BodyFormat `yaml:"body_format"`
}

func (c *Config) InitDefault() {
	if c.Queue.LongPollingTimeSeconds <= 0 {
		c.Queue.LongPollingTimeSeconds = defaultWaitTime
	} else if c.Queue.LongPollingTimeSeconds > maxWaitTime {
		c.Queue.LongPollingTimeSeconds = maxWaitTime
	}

	if c.Queue.MaxFetchingDelaySeconds == nil {
		c.Queue.MaxFetchingDelaySeconds = ptr(defaultMaxFetchDelay)
	} else if *c.Queue.MaxFetchingDelaySeconds < 0 {
		c.Queue.MaxFetchingDelaySeconds = ptr(0)
	}

	if c.Queue.DriveMode == "" {
		c.Queue.DriveMode = DriveDeplete
	}

	if c.Queue.MaxFetchingRetry < 0 {
		c.Queue.MaxFetchingRetry = 0
	}

	if c.Queue.AwaitDeletion == nil {
		c.Queue.AwaitDeletion = ptr(true)
	}

	if c.Message.BodyFormat == "" {
		c.Message.BodyFormat = BodyString
	}

	if c.Queue.Attributes != nil {
		newAttr := make(map[string]string, len(c.Queue.Attributes))
		toAwsAttribute(c.Queue.Attributes, newAttr)
		c.Queue.Attributes = newAttr
	} else {
		c.Queue.Attributes = make(map[string]string)
	}

	if c.Queue.Tags == nil {
		c.Queue.Tags = make(map[string]string)
	}
}

// Validate reports configuration errors which must stop the dispatcher from starting.
func (c *Config) Validate() error {
	const op = errors.Op("sqs_config_validate")

	switch {
	case c.Queue.URL != "":
		u, err := url.Parse(c.Queue.URL)
		if err != nil {
			return errors.E(op, err)
		}
		if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return errors.E(op, errors.Errorf("malformed queue url: %s", c.Queue.URL))
		}
	case c.Queue.Name != "":
	default:
		return errors.E(op, errors.Str("queue url or queue name should be provided"))
	}

	switch c.Queue.DriveMode {
	case DriveLoop, DriveDeplete, DriveSingle:
	default:
		return errors.E(op, errors.Errorf("unknown drive mode: %s", c.Queue.DriveMode))
	}

	switch c.Message.BodyFormat {
	case BodyString, BodyJSON:
	default:
		return errors.E(op, errors.Errorf("unknown body format: %s", c.Message.BodyFormat))
	}

	return nil
}

func ptr[T any](val T) *T {
	return &val
}
