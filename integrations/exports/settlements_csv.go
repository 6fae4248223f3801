// Package exports renders settlement history for reconciliation.
package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"math/big"
	"strconv"
	"time"

	"tappay/native/settlement"
)

var csvHeader = []string{
	"id", "payer_seq", "kind", "payer", "payee", "payee_handle",
	"gross", "fee", "net", "requested", "denomination", "rate", "rate_version",
	"idempotency_key", "timestamp",
}

// SettlementsCSV builds a CSV export for records and returns the serialised
// data alongside a SHA-256 checksum of the payload.
func SettlementsCSV(records []settlement.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		row := flatten(rec)
		if err := writer.Write([]string{
			row.ID, strconv.FormatUint(row.PayerSeq, 10), row.Kind, row.Payer, row.Payee, row.PayeeHandle,
			row.Gross, row.Fee, row.Net, row.Requested, row.Denomination, row.Rate, strconv.FormatUint(row.RateVersion, 10),
			row.IdempotencyKey, row.Timestamp,
		}); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksum(buffer.Bytes())
}

type row struct {
	ID             string `json:"id"`
	PayerSeq       uint64 `json:"payer_seq"`
	Kind           string `json:"kind"`
	Payer          string `json:"payer"`
	Payee          string `json:"payee"`
	PayeeHandle    string `json:"payee_handle,omitempty"`
	Gross          string `json:"gross"`
	Fee            string `json:"fee"`
	Net            string `json:"net"`
	Requested      string `json:"requested"`
	Denomination   string `json:"denomination"`
	Rate           string `json:"rate,omitempty"`
	RateVersion    uint64 `json:"rate_version,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Timestamp      string `json:"timestamp"`
}

func flatten(rec settlement.Record) row {
	out := row{
		ID:             rec.ID,
		PayerSeq:       rec.PayerSeq,
		Kind:           string(rec.Kind),
		Payer:          rec.Payer.Hex(),
		Payee:          rec.Payee.Hex(),
		PayeeHandle:    rec.PayeeHandle,
		Gross:          amount(rec.Gross),
		Fee:            amount(rec.Fee),
		Net:            amount(rec.Net),
		Requested:      amount(rec.Requested),
		Denomination:   string(rec.Denomination),
		IdempotencyKey: rec.IdempotencyKey,
		Timestamp:      rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if rec.RateUsed != nil {
		out.Rate = rec.RateUsed.Numerator.String() + "/" + rec.RateUsed.Denominator.String()
		out.RateVersion = rec.RateUsed.Version
	}
	return out
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func checksum(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
