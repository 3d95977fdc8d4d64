package collabkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/docstore"
	"gocloud.dev/gcerrors"
)

func newRecordStore(t *testing.T, coll Collection) *recordStore {
	t.Helper()
	return &recordStore{coll: coll, docID: testDocID, log: zaptest.NewLogger(t)}
}

func TestStore_GetRetriesTransientFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	coll := NewMockCollection(ctrl)

	gomock.InOrder(
		coll.EXPECT().Get(gomock.Any(), gomock.Any()).Return(errors.New("connection reset")),
		coll.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, doc docstore.Document, _ ...docstore.FieldPath) error {
				doc.(*Record).UpdatedBy = "someone"
				return nil
			}),
	)

	rec, err := newRecordStore(t, coll).get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "someone", rec.UpdatedBy)
}

func TestStore_GetExhaustsRetryBudget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	coll := NewMockCollection(ctrl)

	//exactly storeTries attempts, then the failure surfaces
	coll.EXPECT().Get(gomock.Any(), gomock.Any()).
		Return(errors.New("connection reset")).
		Times(storeTries)

	_, err := newRecordStore(t, coll).get(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestStore_PermissionDeniedIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	coll := NewMockCollection(ctrl)

	//one attempt only, an authorization failure never heals on its own
	coll.EXPECT().Get(gomock.Any(), gomock.Any()).
		Return(errors.New("caller lacks docstore.get")).
		Times(1)

	store := newRecordStore(t, coll)
	store.code = func(error) gcerrors.ErrorCode { return gcerrors.PermissionDenied }

	_, err := store.get(context.Background())
	var perm *PermissionError
	require.ErrorAs(t, err, &perm)
	assert.False(t, IsTransient(err))
}

func TestStore_MutateWritesBackEvaluatedRecord(t *testing.T) {
	coll := newTestCollection(t)
	store := newRecordStore(t, coll)
	ctx := context.Background()
	require.NoError(t, store.ensure(ctx))

	_, err := store.mutate(ctx, func(rec *Record) error {
		rec.UpdatedBy = "alice"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", readRecord(t, coll).UpdatedBy)
}

func TestStore_MutateSkipWriteLeavesRecordUntouched(t *testing.T) {
	coll := newTestCollection(t)
	store := newRecordStore(t, coll)
	ctx := context.Background()
	require.NoError(t, store.ensure(ctx))
	before := readRecord(t, coll)

	_, err := store.mutate(ctx, func(rec *Record) error {
		rec.UpdatedBy = "evaluated but not written"
		return errSkipWrite
	})
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedBy, readRecord(t, coll).UpdatedBy)
}

func TestStore_EnsureToleratesLostCreateRace(t *testing.T) {
	coll := newTestCollection(t)
	a := newRecordStore(t, coll)
	b := newRecordStore(t, coll)
	ctx := context.Background()

	require.NoError(t, a.ensure(ctx))
	require.NoError(t, b.ensure(ctx), "losing the create race to another editor is fine")
}

func TestStore_MutateBoundedUnderInterference(t *testing.T) {
	inner := newTestCollection(t)
	coll := &interferingCollection{inner: inner}
	store := newRecordStore(t, coll)
	ctx := context.Background()
	require.NoError(t, store.ensure(ctx))
	coll.arm()

	start := time.Now()
	_, err := store.mutate(ctx, func(rec *Record) error {
		rec.UpdatedBy = "me"
		return nil
	})
	require.ErrorIs(t, err, errCASMismatch)
	assert.Less(t, time.Since(start), 5*time.Second, "contention must surface, not live-lock")
}
