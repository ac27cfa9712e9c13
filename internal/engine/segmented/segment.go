package segmented

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 80
	FooterSize    int    = 32
)

const segmentExt = ".spdx"

// SegmentHeader is the 80-byte header written at the start of every segment.
// Seq orders segments; delete tombstones refer to it.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
	Seq        uint64
	DocsOffset int64
	DocsSize   int64
}

func (h SegmentHeader) encode() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[56:64], h.Seq)
	binary.LittleEndian.PutUint64(b[64:72], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[72:80], uint64(h.DocsSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		Seq:        binary.LittleEndian.Uint64(b[56:64]),
		DocsOffset: int64(binary.LittleEndian.Uint64(b[64:72])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[72:80])),
	}
}

// DictEntry maps a posting key to its postings offset, length, and document
// frequency in the segment file.
type DictEntry struct {
	Key        string `json:"k"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// SegmentName is the file name of the segment with sequence number seq.
// Zero padding makes lexical order match sequence order.
func SegmentName(seq uint64) string { return fmt.Sprintf("seg_%020d%s", seq, segmentExt) }

// Writer serialises term entries and stored documents into new segment
// files.
type Writer struct {
	dataDir string
}

// NewWriter writes segments under dataDir.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates segment seq. It writes to a .tmp file first and
// renames on success. Layout: header, postings, stored docs, dictionary,
// footer.
func (w *Writer) Write(seq uint64, entries []TermEntry, docs []StoredDoc) (string, error) {
	if len(entries) == 0 && len(docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := SegmentName(seq)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmpPath)
	}()

	header := SegmentHeader{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		TermCount: uint32(len(entries)),
		DocCount:  uint32(len(docs)),
		CreatedAt: time.Now().Unix(),
		Seq:       seq,
	}
	if _, err := f.Write(header.encode()); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	offset := int64(HeaderSize)
	header.PostOffset = offset
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		postingsData, err := json.Marshal(entry.Postings)
		if err != nil {
			return "", fmt.Errorf("marshaling postings for %q: %w", entry.Key, err)
		}
		if _, err := f.Write(postingsData); err != nil {
			return "", fmt.Errorf("writing postings for %q: %w", entry.Key, err)
		}
		dict = append(dict, DictEntry{
			Key:        entry.Key,
			PostOffset: offset - header.PostOffset,
			PostLen:    len(postingsData),
			DocFreq:    len(entry.Postings),
		})
		offset += int64(len(postingsData))
	}
	header.PostSize = offset - header.PostOffset

	docsData, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("marshaling stored documents: %w", err)
	}
	if _, err := f.Write(docsData); err != nil {
		return "", fmt.Errorf("writing stored documents: %w", err)
	}
	header.DocsOffset = offset
	header.DocsSize = int64(len(docsData))
	offset += header.DocsSize

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictOffset = offset
	header.DictSize = int64(len(dictData))

	checksum := crc32.NewIEEE()
	checksum.Write(docsData)
	checksum.Write(dictData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(docs)))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.DictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(header.PostSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(header.encode(), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

// Reader gives read access to one immutable segment. Stored documents are
// loaded at open; postings are read on demand.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docs     map[string]StoredDoc
}

// OpenReader loads the header, dictionary and stored documents of the
// segment at path. Postings are read on demand.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := readSegment(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segment %s: %w", filepath.Base(path), err)
	}
	r.filePath = path
	return r, nil
}

func readSegment(f *os.File) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	docsBytes := make([]byte, header.DocsSize)
	if _, err := f.ReadAt(docsBytes, header.DocsOffset); err != nil {
		return nil, fmt.Errorf("reading stored documents: %w", err)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DictOffset+header.DictSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	checksum := crc32.NewIEEE()
	checksum.Write(docsBytes)
	checksum.Write(dictBytes)
	if want := binary.LittleEndian.Uint32(footer[0:4]); want != checksum.Sum32() {
		return nil, fmt.Errorf("checksum mismatch: stored %08x, computed %08x", want, checksum.Sum32())
	}

	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}
	var docs []StoredDoc
	if err := json.Unmarshal(docsBytes, &docs); err != nil {
		return nil, fmt.Errorf("parsing stored documents: %w", err)
	}
	byID := make(map[string]StoredDoc, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	return &Reader{file: f, header: header, dict: dict, docs: byID}, nil
}

// Search returns the postings of key.
func (r *Reader) Search(key string) (PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Key >= key
	})
	if idx >= len(r.dict) || r.dict[idx].Key != key {
		return nil, nil
	}
	return r.postings(r.dict[idx])
}

func (r *Reader) postings(entry DictEntry) (PostingList, error) {
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings PostingList
	if err := json.Unmarshal(postingsBytes, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// Entries walks the whole dictionary in key order.
func (r *Reader) Entries(fn func(TermEntry) error) error {
	for _, entry := range r.dict {
		postings, err := r.postings(entry)
		if err != nil {
			return err
		}
		if err := fn(TermEntry{Key: entry.Key, Postings: postings}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) Doc(id string) (StoredDoc, bool) {
	d, ok := r.docs[id]
	return d, ok
}

// IDs lists the documents stored in the segment.
func (r *Reader) IDs() []string {
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	return ids
}

func (r *Reader) Seq() uint64 { return r.header.Seq }

func (r *Reader) Name() string { return filepath.Base(r.filePath) }

func (r *Reader) Terms() int { return len(r.dict) }

func (r *Reader) DocCount() uint32 { return r.header.DocCount }

func (r *Reader) Close() error { return r.file.Close() }

func isSegmentFile(name string) bool {
	return strings.HasPrefix(name, "seg_") && strings.HasSuffix(name, segmentExt)
}
