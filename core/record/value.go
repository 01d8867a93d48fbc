// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Kind discriminates the variants of a field value.
type Kind int

const (
	// KindNone marks the zero Value, used to represent an absent field.
	// A field that is present with an empty text value is distinct from
	// an absent one.
	KindNone Kind = iota
	// KindText is a plain string value.
	KindText
	// KindInt is a 64 bit integer value.
	KindInt
	// KindTime is a timestamp value.
	KindTime
	// KindBlob is a structured value stored as JSON.
	KindBlob
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindTime:
		return "time"
	case KindBlob:
		return "blob"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a stored kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "text":
		return KindText, nil
	case "int":
		return KindInt, nil
	case "time":
		return KindTime, nil
	case "blob":
		return KindBlob, nil
	}
	return KindNone, fmt.Errorf("unknown value kind %q", s)
}

// Value is a tagged union over the types a record field can hold.
// Exactly one of the payload members is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Text string
	Int  int64
	Time time.Time
	Blob []byte
}

// TextValue returns a text Value.
func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// IntValue returns an integer Value.
func IntValue(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

// TimeValue returns a timestamp Value.
func TimeValue(t time.Time) Value {
	return Value{Kind: KindTime, Time: t}
}

// BlobValue returns a structured Value holding the given JSON document.
func BlobValue(raw []byte) Value {
	return Value{Kind: KindBlob, Blob: raw}
}

// IsZero reports whether the value represents an absent field.
func (v Value) IsZero() bool {
	return v.Kind == KindNone
}

// Equal reports whether two values are equal under the kind's equality
// semantics. Blob values compare structurally, so equivalent JSON
// representations with different formatting or key order are equal.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNone:
		return true
	case KindText:
		return v.Text == other.Text
	case KindInt:
		return v.Int == other.Int
	case KindTime:
		return v.Time.Equal(other.Time)
	case KindBlob:
		var a, b any
		if err := json.Unmarshal(v.Blob, &a); err != nil {
			return bytes.Equal(v.Blob, other.Blob)
		}
		if err := json.Unmarshal(other.Blob, &b); err != nil {
			return false
		}
		return reflect.DeepEqual(a, b)
	}
	return false
}

// String implements fmt.Stringer, for logging.
func (v Value) String() string {
	switch v.Kind {
	case KindNone:
		return "<absent>"
	case KindText:
		return v.Text
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindTime:
		return v.Time.Format(time.RFC3339)
	case KindBlob:
		return string(v.Blob)
	}
	return "<invalid>"
}

// Encode returns the storage representation of the value payload.
func (v Value) Encode() (string, error) {
	switch v.Kind {
	case KindText:
		return v.Text, nil
	case KindInt:
		return fmt.Sprintf("%d", v.Int), nil
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339Nano), nil
	case KindBlob:
		var doc any
		if err := json.Unmarshal(v.Blob, &doc); err != nil {
			return "", fmt.Errorf("invalid blob value: %v", err)
		}
		normalised, err := json.Marshal(doc)
		if err != nil {
			return "", err
		}
		return string(normalised), nil
	}
	return "", fmt.Errorf("cannot encode value of kind %q", v.Kind)
}

// DecodeValue reconstructs a value from its storage representation.
func DecodeValue(kind string, payload string) (Value, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Value{}, err
	}
	switch k {
	case KindText:
		return TextValue(payload), nil
	case KindInt:
		var i int64
		if _, err := fmt.Sscanf(payload, "%d", &i); err != nil {
			return Value{}, fmt.Errorf("invalid int payload %q: %v", payload, err)
		}
		return IntValue(i), nil
	case KindTime:
		t, err := time.Parse(time.RFC3339Nano, payload)
		if err != nil {
			return Value{}, fmt.Errorf("invalid time payload %q: %v", payload, err)
		}
		return TimeValue(t), nil
	case KindBlob:
		return BlobValue([]byte(payload)), nil
	}
	return Value{}, fmt.Errorf("cannot decode value of kind %q", kind)
}
