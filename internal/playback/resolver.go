package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skypro1111/voice-chat-client/internal/audio"
	"github.com/skypro1111/voice-chat-client/internal/payload"
)

// ErrRevoked is returned when an object URL is resolved after revocation
var ErrRevoked = errors.New("playback: object URL revoked")

// maxRemoteAudioSize bounds a downloaded reply
const maxRemoteAudioSize = 32 << 20

// Resolver loads the bytes behind any source the controller can hand to an
// output: object URLs, data URLs, and absolute or relative HTTP URLs.
// Relative references resolve against BaseURL.
type Resolver struct {
	Store      *ObjectStore
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Resolve returns the audio behind source
func (r *Resolver) Resolve(ctx context.Context, source string) (*payload.Blob, error) {
	switch {
	case IsObjectURL(source):
		if r.Store == nil {
			return nil, fmt.Errorf("%w: %s", ErrRevoked, source)
		}
		blob, ok := r.Store.Lookup(source)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRevoked, source)
		}
		return blob, nil
	case strings.HasPrefix(source, "data:"):
		return ParseDataURL(source)
	}

	target, err := r.absoluteURL(source)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, target)
}

func (r *Resolver) absoluteURL(source string) (*url.URL, error) {
	ref, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid audio source %q: %w", source, err)
	}
	if ref.IsAbs() {
		return ref, nil
	}

	if r.BaseURL == "" {
		return nil, fmt.Errorf("cannot resolve relative audio source %q without a base URL", source)
	}
	base, err := url.Parse(strings.TrimRight(r.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return base.ResolveReference(ref), nil
}

func (r *Resolver) fetch(ctx context.Context, target *url.URL) (*payload.Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio request: %w", err)
	}
	if r.Token != "" && r.sameHost(target) {
		req.Header.Set("Authorization", "Token "+r.Token)
	}

	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch audio: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteAudioSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	mimeType := audio.BaseMimeType(resp.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = audio.SniffMimeType(data, audio.MimeForFilename(target.Path))
	}

	return &payload.Blob{Data: data, MimeType: mimeType}, nil
}

func (r *Resolver) sameHost(target *url.URL) bool {
	base, err := url.Parse(r.BaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Host, target.Host)
}

// ParseDataURL decodes a data URL of the form data:[<type>][;base64],<data>
func ParseDataURL(source string) (*payload.Blob, error) {
	rest, ok := strings.CutPrefix(source, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URL")
	}
	meta, body, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL: missing comma")
	}

	isBase64 := false
	params := strings.Split(meta, ";")
	mimeType := strings.TrimSpace(params[0])
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("malformed data URL body: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(body)
		if err != nil {
			return nil, fmt.Errorf("malformed data URL body: %w", err)
		}
		data = []byte(unescaped)
	}

	return &payload.Blob{Data: data, MimeType: audio.BaseMimeType(mimeType)}, nil
}
