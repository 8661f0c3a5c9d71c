package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"lendledger/core/events"
)

// EventsJSONL builds a JSON Lines export for the supplied ledger event records
// and returns the serialised payload alongside a checksum.
func EventsJSONL(records []events.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		attrs := record.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		payload := map[string]interface{}{
			"sequence":   record.Sequence,
			"call_id":    record.CallID,
			"index":      record.Index,
			"action":     record.Action,
			"caller":     record.Caller,
			"type":       record.Type,
			"attributes": attrs,
			"timestamp":  formatTimestamp(record.Timestamp),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
