package playback

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-chat-client/internal/metrics"
	"github.com/skypro1111/voice-chat-client/internal/payload"
)

// ObjectURLPrefix starts every URL handed out by an ObjectStore
const ObjectURLPrefix = "blob:voicechat/"

// ObjectStore maps temporary object URLs to in-memory audio. A URL stays
// resolvable until it is revoked.
type ObjectStore struct {
	objects map[string]*payload.Blob
	metrics *metrics.Metrics
	mu      sync.RWMutex
}

// NewObjectStore creates an empty store; m may be nil
func NewObjectStore(m *metrics.Metrics) *ObjectStore {
	return &ObjectStore{
		objects: make(map[string]*payload.Blob),
		metrics: m,
	}
}

// Create registers blob and returns its object URL
func (s *ObjectStore) Create(blob *payload.Blob) string {
	url := ObjectURLPrefix + uuid.NewString()

	s.mu.Lock()
	s.objects[url] = blob
	live := len(s.objects)
	s.mu.Unlock()

	s.report(live)
	return url
}

// Revoke releases url and reports whether it was live
func (s *ObjectStore) Revoke(url string) bool {
	s.mu.Lock()
	_, ok := s.objects[url]
	delete(s.objects, url)
	live := len(s.objects)
	s.mu.Unlock()

	if ok {
		s.report(live)
	}
	return ok
}

// Lookup returns the blob behind a live object URL
func (s *ObjectStore) Lookup(url string) (*payload.Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.objects[url]
	return blob, ok
}

// Live returns the number of unrevoked URLs
func (s *ObjectStore) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// IsObjectURL reports whether url was issued by an ObjectStore
func IsObjectURL(url string) bool {
	return strings.HasPrefix(url, ObjectURLPrefix)
}

func (s *ObjectStore) report(live int) {
	if s.metrics != nil {
		s.metrics.SetLiveObjectURLs(live)
	}
}
