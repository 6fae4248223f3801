package exports

import (
	"bytes"
	"encoding/json"

	"tappay/native/settlement"
)

// SettlementsJSONL builds a JSON Lines export for records and returns the
// serialised payload alongside a checksum.
func SettlementsJSONL(records []settlement.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		if err := encoder.Encode(flatten(rec)); err != nil {
			return nil, "", err
		}
	}
	return checksum(buffer.Bytes())
}
