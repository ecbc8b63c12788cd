package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"
)

// DefaultMinBase64Length is the length a string must exceed to be treated as raw base64
const DefaultMinBase64Length = 100

// DefaultMimeType is the content type assumed for binary audio of unstated type
const DefaultMimeType = "audio/mpeg"

// ErrUnsupportedAudioFormat is matched by every UnsupportedAudioFormatError
var ErrUnsupportedAudioFormat = errors.New("unsupported audio format")

// UnsupportedAudioFormatError reports a payload no decoding rule accepts
type UnsupportedAudioFormatError struct {
	Shape  Shape
	Reason string
}

func (e *UnsupportedAudioFormatError) Error() string {
	return fmt.Sprintf("unsupported audio format (%s): %s", e.Shape, e.Reason)
}

func (e *UnsupportedAudioFormatError) Is(target error) bool {
	return target == ErrUnsupportedAudioFormat
}

// SourceKind is the form a payload decodes to
type SourceKind int

const (
	// KindBlob is binary audio that needs an object URL before playback
	KindBlob SourceKind = iota
	// KindBase64 is raw base64 decoded into binary audio
	KindBase64
	// KindDataURL is a data:audio URL used verbatim
	KindDataURL
	// KindRemoteURL is an absolute, root-relative or protocol-relative URL used verbatim
	KindRemoteURL
	// KindRelativeURL is any other plausible URL reference used verbatim
	KindRelativeURL
)

func (k SourceKind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindBase64:
		return "base64"
	case KindDataURL:
		return "data_url"
	case KindRemoteURL:
		return "remote_url"
	case KindRelativeURL:
		return "relative_url"
	default:
		return "unknown"
	}
}

// Decoded is the playable form of a payload. Binary kinds carry Blob and
// leave URL empty; URL kinds carry URL and leave Blob nil.
type Decoded struct {
	Kind SourceKind
	URL  string
	Blob *Blob
}

// NeedsObjectURL reports whether the source must be registered before playback
func (d Decoded) NeedsObjectURL() bool {
	return d.Blob != nil
}

// DecodeOptions tunes the string heuristics
type DecodeOptions struct {
	MinBase64Length int
	DefaultMimeType string
}

// DefaultDecodeOptions returns the options used when none are configured
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{
		MinBase64Length: DefaultMinBase64Length,
		DefaultMimeType: DefaultMimeType,
	}
}

func (o DecodeOptions) withDefaults() DecodeOptions {
	if o.MinBase64Length <= 0 {
		o.MinBase64Length = DefaultMinBase64Length
	}
	if o.DefaultMimeType == "" {
		o.DefaultMimeType = DefaultMimeType
	}
	return o
}

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// Decode maps a payload to exactly one playable source. Rules are tried in
// order and the first match wins:
//
//  1. binary bytes or a blob
//  2. a {"data": x} wrapper, unwrapped once
//  3. a string: data:audio URL, raw base64, absolute or rooted URL, then
//     any other plausible relative reference
//
// Everything else fails with *UnsupportedAudioFormatError. Decode has no side
// effects.
func Decode(p *AudioPayload, opts DecodeOptions) (Decoded, error) {
	return decode(p, opts.withDefaults(), false)
}

func decode(p *AudioPayload, opts DecodeOptions, unwrapped bool) (Decoded, error) {
	if p == nil {
		return Decoded{}, &UnsupportedAudioFormatError{Shape: ShapeUnknown, Reason: "no audio payload"}
	}

	switch p.shape {
	case ShapeBytes:
		if len(p.data) == 0 {
			return Decoded{}, &UnsupportedAudioFormatError{Shape: p.shape, Reason: "empty audio data"}
		}
		return Decoded{Kind: KindBlob, Blob: &Blob{Data: p.data, MimeType: opts.DefaultMimeType}}, nil

	case ShapeBlob:
		if p.blob == nil || len(p.blob.Data) == 0 {
			return Decoded{}, &UnsupportedAudioFormatError{Shape: p.shape, Reason: "empty audio blob"}
		}
		mimeType := p.blob.MimeType
		if mimeType == "" {
			mimeType = opts.DefaultMimeType
		}
		return Decoded{Kind: KindBlob, Blob: &Blob{Data: p.blob.Data, MimeType: mimeType}}, nil

	case ShapeWrapper:
		if unwrapped {
			return Decoded{}, &UnsupportedAudioFormatError{Shape: p.shape, Reason: "nested data wrapper"}
		}
		return decode(p.inner, opts, true)

	case ShapeString:
		return decodeString(p.text, opts)
	}

	return Decoded{}, &UnsupportedAudioFormatError{Shape: p.shape, Reason: "unrecognized value"}
}

func decodeString(value string, opts DecodeOptions) (Decoded, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return Decoded{}, &UnsupportedAudioFormatError{Shape: ShapeString, Reason: "empty string"}
	}

	if strings.HasPrefix(s, "data:audio") {
		return Decoded{Kind: KindDataURL, URL: s}, nil
	}

	compact := stripWhitespace(s)
	if len(compact) > opts.MinBase64Length && base64Pattern.MatchString(compact) {
		data, err := base64.StdEncoding.DecodeString(compact)
		if err != nil {
			return Decoded{}, &UnsupportedAudioFormatError{Shape: ShapeString, Reason: "malformed base64: " + err.Error()}
		}
		return Decoded{Kind: KindBase64, Blob: &Blob{Data: data, MimeType: opts.DefaultMimeType}}, nil
	}

	if isRemoteURL(s) {
		return Decoded{Kind: KindRemoteURL, URL: s}, nil
	}

	if isRelativeReference(s) {
		return Decoded{Kind: KindRelativeURL, URL: s}, nil
	}

	return Decoded{}, &UnsupportedAudioFormatError{Shape: ShapeString, Reason: "not a URL, data URL or base64 audio"}
}

func isRemoteURL(s string) bool {
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return true
	}
	// "/x" and "//x", but not a bare "/"
	return len(s) > 1 && s[0] == '/'
}

func isRelativeReference(s string) bool {
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if strings.Contains(u.Path, "/") {
		return true
	}
	return path.Ext(u.Path) != ""
}

func stripWhitespace(s string) string {
	if strings.IndexFunc(s, unicode.IsSpace) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
