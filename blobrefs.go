package segment

import "sync"

// BlobRefs is a BlobRefRecorder that collects the ids of blob reference
// records, each once, in the order they were first recorded. It is safe
// for concurrent use.
type BlobRefs struct {
	mu   sync.Mutex
	ids  []RecordID
	seen map[RecordID]struct{}
}

func (b *BlobRefs) AddBlobRef(id RecordID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return
	}
	if b.seen == nil {
		b.seen = map[RecordID]struct{}{}
	}
	b.seen[id] = struct{}{}
	b.ids = append(b.ids, id)
}

// IDs returns the recorded ids.
func (b *BlobRefs) IDs() []RecordID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordID(nil), b.ids...)
}

func (b *BlobRefs) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}

// blobRecorders tells every recorder.
type blobRecorders []BlobRefRecorder

func (rs blobRecorders) AddBlobRef(id RecordID) {
	for _, r := range rs {
		r.AddBlobRef(id)
	}
}
