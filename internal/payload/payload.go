// Package payload normalizes the reply audio returned by the backend.
//
// The backend is inconsistent about how it ships audio: a remote URL, a data
// URL, raw base64, binary bytes or a {"data": ...} wrapper around any of
// those. AudioPayload keeps the shape as received and Decode turns it into a
// single playable source.
package payload

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Shape identifies which variant an AudioPayload holds
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeString
	ShapeBytes
	ShapeBlob
	ShapeWrapper
)

func (s Shape) String() string {
	switch s {
	case ShapeString:
		return "string"
	case ShapeBytes:
		return "bytes"
	case ShapeBlob:
		return "blob"
	case ShapeWrapper:
		return "wrapper"
	default:
		return "unknown"
	}
}

// Blob is binary audio with its content type
type Blob struct {
	Data     []byte
	MimeType string
}

// Size returns the blob size in bytes
func (b *Blob) Size() int {
	return len(b.Data)
}

// AudioPayload is the reply audio as received. Exactly one variant is set.
type AudioPayload struct {
	shape Shape
	text  string
	data  []byte
	blob  *Blob
	inner *AudioPayload
	raw   string
}

// FromString wraps a string value (URL, data URL or base64)
func FromString(s string) *AudioPayload {
	return &AudioPayload{shape: ShapeString, text: s}
}

// FromBytes wraps binary audio of unstated type
func FromBytes(data []byte) *AudioPayload {
	return &AudioPayload{shape: ShapeBytes, data: data}
}

// FromBlob wraps binary audio that carries its own content type
func FromBlob(blob *Blob) *AudioPayload {
	return &AudioPayload{shape: ShapeBlob, blob: blob}
}

// Wrap builds the {"data": inner} variant
func Wrap(inner *AudioPayload) *AudioPayload {
	return &AudioPayload{shape: ShapeWrapper, inner: inner}
}

// FromJSON converts a JSON value by shape. Strings become string payloads,
// arrays of byte values become binary payloads and objects with a "data" key
// become wrappers. Any other value is kept as an unknown payload so that
// Decode can report it. It returns nil for null or missing values.
func FromJSON(value gjson.Result) *AudioPayload {
	if !value.Exists() || value.Type == gjson.Null {
		return nil
	}

	switch {
	case value.Type == gjson.String:
		return FromString(value.String())
	case value.IsArray():
		if data, ok := byteArray(value); ok {
			return FromBytes(data)
		}
	case value.IsObject():
		if inner := value.Get("data"); inner.Exists() {
			if wrapped := FromJSON(inner); wrapped != nil {
				return Wrap(wrapped)
			}
		}
	}

	return &AudioPayload{shape: ShapeUnknown, raw: value.Raw}
}

func byteArray(value gjson.Result) ([]byte, bool) {
	items := value.Array()
	data := make([]byte, 0, len(items))
	for _, item := range items {
		if item.Type != gjson.Number {
			return nil, false
		}
		n := item.Int()
		if n < 0 || n > 255 || float64(n) != item.Float() {
			return nil, false
		}
		data = append(data, byte(n))
	}
	return data, true
}

// Shape returns the variant held by the payload
func (p *AudioPayload) Shape() Shape {
	if p == nil {
		return ShapeUnknown
	}
	return p.shape
}

// String describes the payload for logs without dumping audio data
func (p *AudioPayload) String() string {
	if p == nil {
		return "payload(nil)"
	}
	switch p.shape {
	case ShapeString:
		if len(p.text) > 48 {
			return fmt.Sprintf("string(%d chars, %q...)", len(p.text), p.text[:48])
		}
		return fmt.Sprintf("string(%q)", p.text)
	case ShapeBytes:
		return fmt.Sprintf("bytes(%d)", len(p.data))
	case ShapeBlob:
		if p.blob == nil {
			return "blob(nil)"
		}
		return fmt.Sprintf("blob(%s, %d)", p.blob.MimeType, p.blob.Size())
	case ShapeWrapper:
		return fmt.Sprintf("wrapper(%s)", p.inner)
	default:
		if len(p.raw) > 48 {
			return fmt.Sprintf("unknown(%s...)", p.raw[:48])
		}
		return fmt.Sprintf("unknown(%s)", p.raw)
	}
}
