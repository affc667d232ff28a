package audio

import (
	"sync"

	"github.com/google/uuid"
)

// Handle is a playable reference to a clip, in the style of a blob URL.
type Handle string

// HandleStore allocates and releases playable handles.
type HandleStore interface {
	Create(clip *Clip) Handle
	// Release invalidates h. Releasing an unknown handle is a no-op.
	Release(h Handle)
	Resolve(h Handle) (*Clip, bool)
	Live() int
}

// BlobStore is an in-memory HandleStore.
type BlobStore struct {
	mu    sync.RWMutex
	clips map[Handle]*Clip
}

func NewBlobStore() *BlobStore {
	return &BlobStore{clips: make(map[Handle]*Clip)}
}

func (b *BlobStore) Create(clip *Clip) Handle {
	h := Handle("blob:" + uuid.NewString())
	b.mu.Lock()
	b.clips[h] = clip
	b.mu.Unlock()
	return h
}

func (b *BlobStore) Release(h Handle) {
	b.mu.Lock()
	delete(b.clips, h)
	b.mu.Unlock()
}

func (b *BlobStore) Resolve(h Handle) (*Clip, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clips[h]
	return c, ok
}

// Live returns the number of handles not yet released.
func (b *BlobStore) Live() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clips)
}
