package sqs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/golang/mock/gomock"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/sqs-dispatcher/internal/config"
	"github.com/roadrunner-server/sqs-dispatcher/sqsjobs"
	"github.com/roadrunner-server/sqs-dispatcher/sqsjobs/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const pluginConfig = `
sqs:
  region: us-east-1
  queue:
    url: http://127.0.0.1:9324/000000000000/jobs
    drive_mode: deplete
  message:
    job_class_attribute_name: job_class
    body_format: json
  status:
    address: 127.0.0.1:0
`

type testLogger struct {
	log *zap.Logger
}

func (l testLogger) NamedLogger(string) *zap.Logger {
	return l.log
}

type recordingHandler struct {
	mu   sync.Mutex
	jobs []*sqsjobs.Job
}

func (h *recordingHandler) JobClass() string {
	return "email"
}

func (h *recordingHandler) Handle(_ context.Context, job *sqsjobs.Job) error {
	h.mu.Lock()
	h.jobs = append(h.jobs, job)
	h.mu.Unlock()
	return nil
}

func configurer(t *testing.T, data string) *config.Plugin {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sqs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg := &config.Plugin{Path: path}
	require.NoError(t, cfg.Init())
	return cfg
}

func TestInitDisabled(t *testing.T) {
	p := &Plugin{}
	err := p.Init(testLogger{zap.NewNop()}, configurer(t, "log_level: info\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Disabled, err))
	assert.False(t, p.Enabled())
}

func TestInitInvalid(t *testing.T) {
	p := &Plugin{}
	err := p.Init(testLogger{zap.NewNop()}, configurer(t, "sqs:\n  queue:\n    drive_mode: forever\n"))
	require.Error(t, err)
	assert.False(t, errors.Is(errors.Disabled, err))
}

func TestInitDefaults(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.Init(testLogger{zap.NewNop()}, configurer(t, pluginConfig)))

	assert.True(t, p.Enabled())
	assert.Equal(t, "us-east-1", p.cfg.Region)
	assert.Equal(t, sqsjobs.DriveDeplete, p.cfg.Queue.DriveMode)
	assert.Equal(t, int32(5), p.cfg.Queue.LongPollingTimeSeconds)
	assert.Equal(t, "127.0.0.1:0", p.cfg.Status.Address)
	assert.Equal(t, "job_class", p.cfg.Message.JobClassAttributeName)
	assert.Len(t, p.Collects(), 2)
	assert.Equal(t, "sqs", p.Name())
}

func TestServeDeplete(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := mocks.NewMockQueue(ctrl)

	msg := types.Message{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("handle-1"),
		Body:          aws.String(`{"to":"ops@example.com"}`),
		Attributes:    map[string]string{sqsjobs.ApproximateReceiveCount: "1"},
		MessageAttributes: map[string]types.MessageAttributeValue{
			"job_class": {DataType: aws.String(sqsjobs.StringType), StringValue: aws.String("email")},
		},
	}

	gomock.InOrder(
		queue.EXPECT().Receive(gomock.Any(), int32(10), int32(5)).Return([]types.Message{msg}, nil),
		queue.EXPECT().Receive(gomock.Any(), int32(10), int32(5)).Return(nil, nil),
	)
	queue.EXPECT().Delete(gomock.Any(), "handle-1").Return(nil)

	core, logs := observer.New(zap.DebugLevel)

	p := &Plugin{queue: queue}
	require.NoError(t, p.Init(testLogger{zap.New(core)}, configurer(t, pluginConfig)))

	h := &recordingHandler{}
	p.Register(h.JobClass(), h.Handle)

	errCh := p.Serve()

	select {
	case <-p.Done():
	case err := <-errCh:
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain the queue")
	}

	require.Len(t, h.jobs, 1)
	assert.Equal(t, "m-1", h.jobs[0].ID)
	assert.Equal(t, map[string]any{"to": "ops@example.com"}, h.jobs[0].Body)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Cycles)
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Equal(t, uint64(1), stats.Acknowledged)

	assert.Equal(t, 1, logs.FilterMessage("sqs dispatcher stopped").Len())
	require.NoError(t, p.Stop(context.Background()))
}

func TestStopLoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	queue := mocks.NewMockQueue(ctrl)

	queue.EXPECT().Receive(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ int32) ([]types.Message, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).AnyTimes()

	p := &Plugin{queue: queue}
	require.NoError(t, p.Init(testLogger{zap.NewNop()}, configurer(t, "sqs:\n  queue:\n    name: jobs\n    drive_mode: loop\n")))

	errCh := p.Serve()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	select {
	case <-p.Done():
	default:
		t.Fatal("done should be closed after Stop")
	}

	select {
	case err := <-errCh:
		t.Fatal(err)
	default:
	}
}
