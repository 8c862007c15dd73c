package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/buildorch/internal/foundation/errors"
)

// Event is one recorded fact about a run. ID and RecordedAt are assigned by
// the store on Append.
type Event struct {
	ID         int64
	RunID      string
	Type       string
	RecordedAt time.Time
	Payload    json.RawMessage
	Metadata   map[string]string
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.WrapError(err, errors.CategoryStore, "decode event payload").
			WithContext("event_type", e.Type).
			WithContext("run_id", e.RunID).
			Build()
	}
	return nil
}
