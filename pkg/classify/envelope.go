package classify

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Wire shapes of the provider webhook envelope. Only the fields the relay
// consumes are declared; everything else is ignored by the decoder.

type Envelope struct {
	PayloadType string   `json:"payload_type,omitempty"`
	MetaData    MetaData `json:"metaData"`
}

type MetaData struct {
	Entry []Entry `json:"entry"`
}

type Entry struct {
	Changes []Change `json:"changes"`
}

type Change struct {
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
	} `json:"metadata"`
	Contacts []Contact     `json:"contacts"`
	Messages []WireMessage `json:"messages"`
	Statuses []WireStatus  `json:"statuses"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WireMessage struct {
	ID        string       `json:"id"`
	From      string       `json:"from"`
	Timestamp epochSeconds `json:"timestamp"`
	Type      string       `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
}

type WireStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// epochSeconds tolerates the provider sending timestamps as either a quoted
// string or a bare number.
type epochSeconds int64

func (e *epochSeconds) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*e = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		// unparseable timestamps degrade to zero instead of failing the
		// whole envelope
		*e = 0
		return nil
	}
	*e = epochSeconds(n)
	return nil
}

func decodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(payload, &env)
	return env, err
}
