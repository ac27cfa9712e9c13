package segmented

import (
	"sort"
	"sync"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	"github.com/sdi-catalog/csw-indexer/internal/engine/tokenizer"
)

// Posting records one document's occurrences of a term.
type Posting struct {
	DocID     string `json:"id"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p,omitempty"`
}

// PostingList is ordered by document identifier.
type PostingList []Posting

// TermEntry is one dictionary key and its postings. Key joins the field and
// the term with keySep.
type TermEntry struct {
	Key      string
	Postings PostingList
}

// StoredDoc holds the retrievable fields of one document.
type StoredDoc struct {
	ID     string              `json:"id"`
	Fields map[string][]string `json:"f"`
}

const keySep = "\x1f"

func postingKey(field, term string) string { return field + keySep + term }

// MemoryIndex buffers documents until they are flushed to a segment.
type MemoryIndex struct {
	mu    sync.RWMutex
	index map[string]map[string]*Posting
	docs  map[string]StoredDoc
	// keys remembers the posting keys of each document so it can be removed.
	keys map[string][]string
	size int64
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index: make(map[string]map[string]*Posting),
		docs:  make(map[string]StoredDoc),
		keys:  make(map[string][]string),
	}
}

// termsOf computes the postings of doc. Analyzed entries contribute their
// tokens; every other entry contributes its whole value as one term.
func termsOf(doc *document.Document) map[string]*Posting {
	terms := make(map[string]*Posting)
	add := func(key string, pos int) {
		p, ok := terms[key]
		if !ok {
			p = &Posting{DocID: doc.ID}
			terms[key] = p
		}
		p.Frequency++
		if pos >= 0 {
			p.Positions = append(p.Positions, pos)
		}
	}
	for _, name := range doc.Names() {
		offset := 0
		for _, e := range doc.Entries(name) {
			if !e.Analyzed {
				add(postingKey(name, e.Value), -1)
				continue
			}
			tokens := tokenizer.Tokenize(e.Value)
			for _, tok := range tokens {
				add(postingKey(name, tok.Term), offset+tok.Position)
			}
			offset += len(tokens)
		}
	}
	return terms
}

// AddDocument indexes doc, replacing a buffered document with the same ID.
func (m *MemoryIndex) AddDocument(doc *document.Document) {
	terms := termsOf(doc)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(doc.ID)
	keys := make([]string, 0, len(terms))
	for key, posting := range terms {
		if _, exists := m.index[key]; !exists {
			m.index[key] = make(map[string]*Posting)
		}
		m.index[key][doc.ID] = posting
		keys = append(keys, key)
		m.size += int64(len(key) + len(doc.ID) + len(posting.Positions)*8 + 64)
	}
	stored := StoredDoc{ID: doc.ID, Fields: engine.Stored(doc)}
	for name, vs := range stored.Fields {
		for _, v := range vs {
			m.size += int64(len(name) + len(v))
		}
	}
	m.docs[doc.ID] = stored
	m.keys[doc.ID] = keys
}

// Remove drops a buffered document. It reports whether one was present.
func (m *MemoryIndex) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

func (m *MemoryIndex) removeLocked(id string) bool {
	keys, ok := m.keys[id]
	if !ok {
		return false
	}
	for _, key := range keys {
		docs := m.index[key]
		delete(docs, id)
		if len(docs) == 0 {
			delete(m.index, key)
		}
	}
	delete(m.keys, id)
	delete(m.docs, id)
	return true
}

// Search returns the postings for key, sorted by document identifier.
func (m *MemoryIndex) Search(key string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[key]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

func (m *MemoryIndex) Doc(id string) (StoredDoc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	return d, ok
}

// Snapshot returns the term entries sorted by key and the stored documents
// sorted by ID.
func (m *MemoryIndex) Snapshot() ([]TermEntry, []StoredDoc) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for key, docs := range m.index {
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		entries = append(entries, TermEntry{Key: key, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	docs := make([]StoredDoc, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return entries, docs
}

// IDs lists the buffered document IDs.
func (m *MemoryIndex) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	return ids
}

// Size approximates the buffered bytes.
func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Reset drops everything buffered, typically after a flush.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[string]*Posting)
	m.docs = make(map[string]StoredDoc)
	m.keys = make(map[string][]string)
	m.size = 0
}
