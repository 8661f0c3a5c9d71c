package events

import (
	"time"

	"lendledger/core/types"
)

// Record is a committed ledger event annotated with the call that produced it.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	CallID     string            `json:"callId"`
	Index      int               `json:"index"`
	Action     string            `json:"action"`
	Caller     string            `json:"caller"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  time.Time         `json:"timestamp"`
}

// EventType implements Event.
func (r Record) EventType() string { return r.Type }

// Event returns the structured payload carried by the record.
func (r Record) Event() *types.Event {
	evt := &types.Event{Type: r.Type, Attributes: r.Attributes}
	return evt.Clone()
}

func cloneRecord(r Record) Record {
	cloned := r
	if r.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}
