package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	tableerrors "github.com/theory-cloud/tabletheory/pkg/errors"
	tablemocks "github.com/theory-cloud/tabletheory/pkg/mocks"
	"pgregory.net/rapid"

	"github.com/theory-cloud/pipetheory/pkg/observability"
	"github.com/theory-cloud/pipetheory/pkg/transaction"
)

const testOrdersTable = "orders-test"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func sampleTransaction() transaction.Transaction {
	return transaction.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-9",
		Amount:     42.5,
		Currency:   "USD",
		Raw:        json.RawMessage(`{"transaction_id":"tx-1"}`),
	}
}

func TestWriter_Put_StoresOrder(t *testing.T) {
	db := new(tablemocks.MockDB)
	q := new(tablemocks.MockQuery)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	db.On("Model", mock.MatchedBy(func(model any) bool {
		order, ok := model.(*Order)
		if !ok {
			return false
		}
		return order.TransactionID == "tx-1" &&
			order.CustomerID == "cust-9" &&
			order.Amount == 42.5 &&
			order.CreatedAt.Equal(now)
	})).Return(q).Once()
	q.On("WithContext", mock.Anything).Return(q).Once()
	q.On("IfNotExists").Return(q).Once()
	q.On("Create").Return(nil).Once()

	w := NewWriter(db, WriterConfig{TableName: testOrdersTable, Clock: fixedClock{now: now}})

	require.NoError(t, w.Put(context.Background(), sampleTransaction()))
	db.AssertExpectations(t)
	q.AssertExpectations(t)
}

func TestWriter_Put_DuplicateIsSuccess(t *testing.T) {
	db := new(tablemocks.MockDB)
	q := new(tablemocks.MockQuery)

	db.On("Model", mock.Anything).Return(q).Once()
	q.On("WithContext", mock.Anything).Return(q).Once()
	q.On("IfNotExists").Return(q).Once()
	q.On("Create").Return(tableerrors.ErrConditionFailed).Once()

	log := observability.NewTestLogger()
	w := NewWriter(db, WriterConfig{TableName: testOrdersTable, Logger: log})

	require.NoError(t, w.Put(context.Background(), sampleTransaction()))

	entries := log.EntriesAt("info")
	require.Len(t, entries, 1)
	require.Equal(t, "duplicate transaction ignored", entries[0].Message)
	require.Equal(t, "tx-1", entries[0].Fields["transaction_id"])
}

func TestWriter_Put_OtherErrorsAreTransient(t *testing.T) {
	db := new(tablemocks.MockDB)
	q := new(tablemocks.MockQuery)

	cause := errors.New("ThrottlingException: slow down")
	db.On("Model", mock.Anything).Return(q).Once()
	q.On("WithContext", mock.Anything).Return(q).Once()
	q.On("IfNotExists").Return(q).Once()
	q.On("Create").Return(cause).Once()

	w := NewWriter(db, WriterConfig{TableName: testOrdersTable})

	err := w.Put(context.Background(), sampleTransaction())
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	require.ErrorIs(t, err, cause)
	require.True(t, IsThrottle(err))
}

func TestWriter_ConflictingTableNamePanics(t *testing.T) {
	db := new(tablemocks.MockDB)

	NewWriter(db, WriterConfig{TableName: testOrdersTable})
	require.Panics(t, func() {
		NewWriter(db, WriterConfig{TableName: "some-other-table"})
	})
}

func TestOrder_TableName_UsesOverride(t *testing.T) {
	db := new(tablemocks.MockDB)
	NewWriter(db, WriterConfig{TableName: testOrdersTable})

	require.Equal(t, testOrdersTable, Order{}.TableName())
}

func TestWriter_Put_RepeatedWritesConverge(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		txn := transaction.Transaction{
			ID:         rapid.StringMatching(`tx-[a-z0-9]{1,12}`).Draw(t, "id"),
			CustomerID: rapid.StringMatching(`cust-[a-z0-9]{1,8}`).Draw(t, "customer"),
			Amount:     rapid.Float64Range(0, 1e9).Draw(t, "amount"),
		}
		writes := rapid.IntRange(2, 5).Draw(t, "writes")

		db := new(tablemocks.MockDB)
		q := new(tablemocks.MockQuery)

		// First write lands; every redelivered write hits the condition.
		db.On("Model", mock.Anything).Return(q)
		q.On("WithContext", mock.Anything).Return(q)
		q.On("IfNotExists").Return(q)
		q.On("Create").Return(nil).Once()
		q.On("Create").Return(tableerrors.ErrConditionFailed)

		w := NewWriter(db, WriterConfig{})
		for i := 0; i < writes; i++ {
			if err := w.Put(context.Background(), txn); err != nil {
				t.Fatalf("write %d: %v", i, err)
			}
		}
	})
}

func TestIsThrottle(t *testing.T) {
	t.Parallel()

	require.False(t, IsThrottle(nil))
	require.False(t, IsThrottle(errors.New("ValidationException")))
	require.True(t, IsThrottle(errors.New("ProvisionedThroughputExceededException")))
	require.True(t, IsThrottle(errors.New("api error RequestLimitExceeded")))
	require.True(t, IsThrottle(&TransientError{Err: errors.New("RequestThrottled")}))
}
