package transaction

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Rejection reasons reported in invalid-transaction alerts.
const (
	ReasonMalformedPayload     = "malformed payload"
	ReasonMissingTransactionID = "missing field: transaction_id"
	ReasonMissingCustomerID    = "missing field: customer_id"
	ReasonMissingAmount        = "missing field: amount"
	ReasonAmountNotNumeric     = "amount must be numeric"
	ReasonAmountNegative       = "amount must be non-negative"
)

// IDSource supplies identifiers when GenerateMissingIDs is enabled.
type IDSource interface {
	NewID() string
}

// Validator promotes a raw message body to a Transaction or rejects it
// with a specific reason.
//
// Validation is pure and deterministic for a given input, so a redelivered
// message always classifies the same way. The one exception is opt-in:
// GenerateMissingIDs mints an identifier for payloads that lack one
// instead of rejecting them.
type Validator struct {
	GenerateMissingIDs bool
	IDs                IDSource
}

// Validate checks that the payload is well-formed JSON, that
// transaction_id and customer_id are present, and that amount is a
// non-negative number. It tolerates SNS-to-SQS envelopes and
// double-encoded JSON bodies.
func (v Validator) Validate(raw []byte) (Transaction, error) {
	payload, ok := decodePayload(raw)
	if !ok {
		return Transaction{}, reject(ReasonMalformedPayload)
	}

	id := firstString(payload, "transaction_id", "orderId", "order_id")
	if id == "" {
		if !v.GenerateMissingIDs || v.IDs == nil {
			return Transaction{}, reject(ReasonMissingTransactionID)
		}
		id = v.IDs.NewID()
	}

	customerID := firstString(payload, "customer_id", "customerId")
	if customerID == "" {
		return Transaction{}, reject(ReasonMissingCustomerID)
	}

	rawAmount, present := payload["amount"]
	if !present || rawAmount == nil {
		return Transaction{}, reject(ReasonMissingAmount)
	}
	amount, err := numericAmount(rawAmount)
	if err != nil {
		return Transaction{}, err
	}
	if amount < 0 {
		return Transaction{}, reject(ReasonAmountNegative)
	}

	return Transaction{
		ID:         id,
		CustomerID: customerID,
		Amount:     amount,
		Currency:   firstString(payload, "currency"),
		Raw:        append(json.RawMessage(nil), raw...),
	}, nil
}

// decodePayload accepts a JSON object, a double-encoded JSON object, or an
// SNS->SQS envelope ({"Message": "<json>"}) and returns the inner object.
func decodePayload(raw []byte) (map[string]any, bool) {
	value, ok := decodeJSON(raw)
	if !ok {
		return nil, false
	}

	if s, isString := value.(string); isString {
		if inner, innerOK := decodeJSON([]byte(s)); innerOK {
			value = inner
		}
	}

	obj, isObject := value.(map[string]any)
	if !isObject {
		return nil, false
	}

	if msg, isString := obj["Message"].(string); isString {
		if inner, innerOK := decodeJSON([]byte(msg)); innerOK {
			if innerObj, innerIsObject := inner.(map[string]any); innerIsObject {
				return innerObj, true
			}
		}
	}

	return obj, true
}

func decodeJSON(raw []byte) (any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, false
	}
	return value, true
}

func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := payload[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func numericAmount(value any) (float64, error) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, reject(ReasonAmountNotNumeric)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, reject(ReasonAmountNotNumeric)
		}
		return f, nil
	default:
		return 0, reject(ReasonAmountNotNumeric)
	}
}
