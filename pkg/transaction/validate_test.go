package transaction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type stubIDs struct{ id string }

func (s stubIDs) NewID() string { return s.id }

func requireRejected(t *testing.T, err error, reason string) {
	t.Helper()
	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, reason, rejection.Reason)
}

func TestValidate_AcceptsWellFormedTransaction(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"transaction_id":"tx-1","customer_id":"cust-9","amount":42.5,"currency":"USD"}`)

	txn, err := Validator{}.Validate(raw)
	require.NoError(t, err)
	require.Equal(t, "tx-1", txn.ID)
	require.Equal(t, "cust-9", txn.CustomerID)
	require.Equal(t, 42.5, txn.Amount)
	require.Equal(t, "USD", txn.Currency)
	require.JSONEq(t, string(raw), string(txn.Raw))
}

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"empty body", "", ReasonMalformedPayload},
		{"not json", "not json at all", ReasonMalformedPayload},
		{"json scalar", "42", ReasonMalformedPayload},
		{"json array", `[{"transaction_id":"tx-1"}]`, ReasonMalformedPayload},
		{"missing transaction id", `{"customer_id":"c1","amount":10}`, ReasonMissingTransactionID},
		{"blank transaction id", `{"transaction_id":"  ","customer_id":"c1","amount":10}`, ReasonMissingTransactionID},
		{"missing customer id", `{"transaction_id":"tx-1","amount":10}`, ReasonMissingCustomerID},
		{"missing amount", `{"transaction_id":"tx-1","customer_id":"c1"}`, ReasonMissingAmount},
		{"null amount", `{"transaction_id":"tx-1","customer_id":"c1","amount":null}`, ReasonMissingAmount},
		{"amount not numeric", `{"transaction_id":"tx-1","customer_id":"c1","amount":"abc"}`, ReasonAmountNotNumeric},
		{"amount boolean", `{"transaction_id":"tx-1","customer_id":"c1","amount":true}`, ReasonAmountNotNumeric},
		{"amount negative", `{"transaction_id":"tx-1","customer_id":"c1","amount":-0.01}`, ReasonAmountNegative},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Validator{}.Validate([]byte(tc.body))
			requireRejected(t, err, tc.reason)
		})
	}
}

func TestValidate_AcceptsAliasedFieldNames(t *testing.T) {
	t.Parallel()

	txn, err := Validator{}.Validate([]byte(`{"orderId":"ord-7","customerId":"c1","amount":"12.50"}`))
	require.NoError(t, err)
	require.Equal(t, "ord-7", txn.ID)
	require.Equal(t, "c1", txn.CustomerID)
	require.Equal(t, 12.5, txn.Amount)
}

func TestValidate_ZeroAmountIsValid(t *testing.T) {
	t.Parallel()

	txn, err := Validator{}.Validate([]byte(`{"transaction_id":"tx-1","customer_id":"c1","amount":0}`))
	require.NoError(t, err)
	require.Equal(t, 0.0, txn.Amount)
}

func TestValidate_UnwrapsSNSEnvelope(t *testing.T) {
	t.Parallel()

	body := `{"Type":"Notification","Message":"{\"transaction_id\":\"tx-env\",\"customer_id\":\"c1\",\"amount\":77}"}`

	txn, err := Validator{}.Validate([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "tx-env", txn.ID)
	require.Equal(t, 77.0, txn.Amount)
}

func TestValidate_AcceptsDoubleEncodedJSON(t *testing.T) {
	t.Parallel()

	body := `"{\"transaction_id\":\"tx-dbl\",\"customer_id\":\"c1\",\"amount\":5}"`

	txn, err := Validator{}.Validate([]byte(body))
	require.NoError(t, err)
	require.Equal(t, "tx-dbl", txn.ID)
}

func TestValidate_GenerateMissingIDs(t *testing.T) {
	t.Parallel()

	v := Validator{GenerateMissingIDs: true, IDs: stubIDs{id: "generated-1"}}

	txn, err := v.Validate([]byte(`{"customer_id":"c1","amount":10}`))
	require.NoError(t, err)
	require.Equal(t, "generated-1", txn.ID)

	// Enabled but without a source, the payload still rejects.
	_, err = Validator{GenerateMissingIDs: true}.Validate([]byte(`{"customer_id":"c1","amount":10}`))
	requireRejected(t, err, ReasonMissingTransactionID)
}

func TestRejectionError_Message(t *testing.T) {
	t.Parallel()

	err := reject(ReasonMissingAmount)
	require.EqualError(t, err, "transaction rejected: missing field: amount")

	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
}

func TestValidate_Deterministic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "body")

		first, firstErr := Validator{}.Validate(body)
		second, secondErr := Validator{}.Validate(body)

		if (firstErr == nil) != (secondErr == nil) {
			t.Fatalf("classification changed between runs: %v vs %v", firstErr, secondErr)
		}
		if firstErr != nil {
			if firstErr.Error() != secondErr.Error() {
				t.Fatalf("rejection reason changed between runs: %v vs %v", firstErr, secondErr)
			}
			return
		}
		if first.ID != second.ID || first.CustomerID != second.CustomerID || first.Amount != second.Amount {
			t.Fatalf("accepted transaction changed between runs: %+v vs %+v", first, second)
		}
	})
}
