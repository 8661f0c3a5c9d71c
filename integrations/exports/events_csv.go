package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"lendledger/core/events"
)

var csvHeader = []string{"sequence", "call_id", "index", "action", "caller", "type", "attributes", "timestamp"}

// EventsCSV builds a CSV export for the supplied ledger event records and
// returns the serialised data alongside a SHA-256 checksum of the payload.
// Attributes are written as a JSON object so the column count stays fixed.
func EventsCSV(records []events.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		attrs, err := attributesJSON(record.Attributes)
		if err != nil {
			return nil, "", err
		}
		row := []string{
			strconv.FormatUint(record.Sequence, 10),
			record.CallID,
			strconv.Itoa(record.Index),
			record.Action,
			record.Caller,
			record.Type,
			attrs,
			formatTimestamp(record.Timestamp),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func attributesJSON(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	// encoding/json sorts map keys, which keeps the checksum stable.
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
