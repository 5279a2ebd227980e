package photo

import (
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

const previewScheme = "preview:"

// Previews holds locally valid preview payloads until they are released.
// Every Register must be paired with a Release (or ReleaseAll on teardown).
type Previews struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewPreviews() *Previews {
	return &Previews{items: make(map[string][]byte)}
}

// Register stores data and returns its preview reference
func (p *Previews) Register(data []byte) string {
	ref := previewScheme + ulid.Make().String()
	p.mu.Lock()
	p.items[ref] = data
	p.mu.Unlock()
	return ref
}

func (p *Previews) Get(ref string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.items[ref]
	return data, ok
}

// Release drops a preview. Releasing an unknown ref is a no-op.
func (p *Previews) Release(ref string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[ref]; !ok {
		return false
	}
	delete(p.items, ref)
	return true
}

func (p *Previews) ReleaseAll() {
	p.mu.Lock()
	p.items = make(map[string][]byte)
	p.mu.Unlock()
}

func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// IsPreviewRef reports whether s is a preview reference rather than a storage path
func IsPreviewRef(s string) bool {
	return strings.HasPrefix(s, previewScheme)
}
