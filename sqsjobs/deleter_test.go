package sqsjobs

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/golang/mock/gomock"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/sqs-dispatcher/sqsjobs/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transientErr(op errors.Op) error {
	return &QueueError{Op: op, Kind: KindOther, Err: errors.Str("service unavailable")}
}

func invalidReceiptErr(op errors.Op) error {
	return &QueueError{Op: op, Kind: KindInvalidReceipt, Err: errors.Str("receipt handle is invalid")}
}

func TestDeleteAcknowledges(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := mocks.NewMockQueue(ctrl)
	q.EXPECT().Delete(gomock.Any(), "handle").Return(nil).Times(1)

	log, logs := observedLogger(t)
	sl := &sleepRecorder{}
	msg := message("1", "handle", "10", "", nil)

	assert.True(t, NewDeleter(q, log, sl.sleep).Delete(context.Background(), &msg))

	assert.Empty(t, sl.Waits())
	assert.Zero(t, logs.FilterMessage("failed to delete message").Len())
}

func TestDeleteWithoutReceiptIsNoop(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := mocks.NewMockQueue(ctrl)

	log, _ := observedLogger(t)
	msg := types.Message{}

	assert.False(t, NewDeleter(q, log, nil).Delete(context.Background(), &msg))
}

func TestDeleteStopsOnInvalidReceipt(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := mocks.NewMockQueue(ctrl)
	q.EXPECT().Delete(gomock.Any(), "handle").Return(invalidReceiptErr("sqs_delete")).Times(1)

	log, logs := observedLogger(t)
	sl := &sleepRecorder{}
	msg := message("1", "handle", "10", "", nil)

	assert.False(t, NewDeleter(q, log, sl.sleep).Delete(context.Background(), &msg))

	assert.Empty(t, sl.Waits())
	entries := logs.FilterMessage("message is already removed from the queue").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].ContextMap()["id"])
}

func TestDeleteRetriesIndefinitely(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := mocks.NewMockQueue(ctrl)
	gomock.InOrder(
		q.EXPECT().Delete(gomock.Any(), "handle").Return(transientErr("sqs_delete")).Times(6),
		q.EXPECT().Delete(gomock.Any(), "handle").Return(nil).Times(1),
	)

	log, logs := observedLogger(t)
	sl := &sleepRecorder{}
	msg := message("1", "handle", "10", "", nil)

	assert.True(t, NewDeleter(q, log, sl.sleep).Delete(context.Background(), &msg))

	assert.Equal(t, seconds(0, 1, 1, 2, 3, 5), sl.Waits())
	entries := logs.FilterMessage("failed to delete message").All()
	require.Len(t, entries, 6)
	for _, e := range entries {
		assert.Equal(t, "1", e.ContextMap()["id"])
	}
}

func TestDeleteAbandonedOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := mocks.NewMockQueue(ctrl)
	q.EXPECT().Delete(gomock.Any(), "handle").Return(transientErr("sqs_delete")).Times(1)

	log, logs := observedLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := message("1", "handle", "1", "", nil)
	assert.False(t, NewDeleter(q, log, nil).Delete(ctx, &msg))

	assert.Equal(t, 1, logs.FilterMessage("message deletion abandoned").Len())
}
