// Package jsonb holds the opaque JSON payload type used for audit metadata and
// course content. The portal stores and forwards these documents without
// interpreting them.
package jsonb

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Payload is a raw JSON document. The zero value is JSON null.
type Payload []byte

// From marshals v into a Payload. A nil v yields a null payload.
func From(v interface{}) (Payload, error) {
	if v == nil {
		return nil, nil
	}
	if p, ok := v.(Payload); ok {
		return p, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonb: marshal payload: %w", err)
	}
	return Payload(b), nil
}

// IsNull reports whether the payload carries no document.
func (p Payload) IsNull() bool {
	return len(p) == 0 || string(p) == "null"
}

// MarshalJSON emits the stored document verbatim.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsNull() {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return fmt.Errorf("jsonb: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[:0], data...)
	return nil
}

// Value stores the document as text so it fits json and jsonb columns alike.
func (p Payload) Value() (driver.Value, error) {
	if p.IsNull() {
		return nil, nil
	}
	if !json.Valid(p) {
		return nil, fmt.Errorf("jsonb: invalid document")
	}
	return string(p), nil
}

// Scan copies the column value; drivers may reuse their buffers.
func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(Payload(nil), v...)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("jsonb: cannot scan %T", src)
	}
	return nil
}
