package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log_level: debug
sqs:
  region: ${SQS_TEST_REGION}
  queue:
    url: https://sqs.us-east-1.amazonaws.com/1/jobs
    long_polling_time_seconds: 10
  message:
    body_format: json
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sqs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

type queueSection struct {
	URL      string `yaml:"url"`
	LongPoll int    `yaml:"long_polling_time_seconds"`
}

func TestUnmarshalKey(t *testing.T) {
	t.Setenv("SQS_TEST_REGION", "eu-west-1")

	p := &Plugin{Path: writeConfig(t, testConfig)}
	require.NoError(t, p.Init())

	assert.True(t, p.Has("sqs"))
	assert.True(t, p.Has("sqs.queue"))
	assert.False(t, p.Has("sqs.status"))
	assert.False(t, p.Has("sqs.queue.url.nested"))

	var region string
	require.NoError(t, p.UnmarshalKey("sqs.region", &region))
	assert.Equal(t, "eu-west-1", region)

	var q queueSection
	require.NoError(t, p.UnmarshalKey("sqs.queue", &q))
	assert.Equal(t, queueSection{URL: "https://sqs.us-east-1.amazonaws.com/1/jobs", LongPoll: 10}, q)

	missing := queueSection{URL: "keep"}
	require.NoError(t, p.UnmarshalKey("nope", &missing))
	assert.Equal(t, "keep", missing.URL)
}

func TestOverrides(t *testing.T) {
	p := &Plugin{
		Path:      writeConfig(t, testConfig),
		Overrides: []string{"sqs.queue.long_polling_time_seconds=1", "sqs.queue.drive_mode=loop", "sqs.status.address=:2112"},
	}
	require.NoError(t, p.Init())

	var q queueSection
	require.NoError(t, p.UnmarshalKey("sqs.queue", &q))
	assert.Equal(t, 1, q.LongPoll)

	var mode, addr string
	require.NoError(t, p.UnmarshalKey("sqs.queue.drive_mode", &mode))
	require.NoError(t, p.UnmarshalKey("sqs.status.address", &addr))
	assert.Equal(t, "loop", mode)
	assert.Equal(t, ":2112", addr)
}

func TestInitErrors(t *testing.T) {
	require.Error(t, (&Plugin{Path: filepath.Join(t.TempDir(), "missing.yaml")}).Init())
	require.Error(t, (&Plugin{Path: writeConfig(t, "- a\n- b\n")}).Init())
	require.Error(t, (&Plugin{Path: writeConfig(t, testConfig), Overrides: []string{"novalue"}}).Init())

	empty := &Plugin{Path: writeConfig(t, "")}
	require.NoError(t, empty.Init())
	assert.False(t, empty.Has("sqs"))
}
