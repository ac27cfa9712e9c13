package reader

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

const recordExt = ".xml"

// FSReader serves records stored as <identifier>.xml files in one directory.
type FSReader struct {
	dir        string
	mode       Mode
	additional map[string][]string
}

// NewFSReader reads records stored as <identifier>.xml under dir.
func NewFSReader(dir string, mode Mode, additional map[string][]string) *FSReader {
	return &FSReader{dir: dir, mode: mode, additional: additional}
}

func (r *FSReader) AdditionalQueryables() map[string][]string { return r.additional }

// AllIdentifiers returns every record identifier in lexical order.
func (r *FSReader) AllIdentifiers(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindIndex, err, "listing "+r.dir)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if id, ok := identifierOf(e); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Entry decodes the record stored for id.
func (r *FSReader) Entry(ctx context.Context, id string) (metadata.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, apperrors.KindRecord, "identifier %q", id)
	}
	data, err := os.ReadFile(filepath.Join(r.dir, id+recordExt))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Newf(apperrors.ErrRecordNotFound, apperrors.KindRecord, "record %q", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindRecord, err, "reading record "+id)
	}
	return Decode(data, r.mode)
}

// Identifiers streams directory entries in batches instead of reading the
// whole listing up front. Order follows the directory, not the identifiers.
func (r *FSReader) Identifiers(ctx context.Context) (IdentifierIterator, error) {
	f, err := os.Open(r.dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindIndex, err, "opening "+r.dir)
	}
	return &dirIterator{ctx: ctx, dir: f}, nil
}

func identifierOf(e fs.DirEntry) (string, bool) {
	if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), recordExt) {
		return "", false
	}
	return strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), true
}

const dirBatch = 128

type dirIterator struct {
	ctx     context.Context
	dir     *os.File
	pending []string
	current string
	err     error
	done    bool
}

func (it *dirIterator) Next() bool {
	for len(it.pending) == 0 {
		if it.done || it.err != nil {
			return false
		}
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
		entries, err := it.dir.ReadDir(dirBatch)
		if errors.Is(err, io.EOF) {
			it.done = true
		} else if err != nil {
			it.err = apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindIndex, err, "listing records")
			return false
		}
		for _, e := range entries {
			if id, ok := identifierOf(e); ok {
				it.pending = append(it.pending, id)
			}
		}
	}
	it.current, it.pending = it.pending[0], it.pending[1:]
	return true
}

func (it *dirIterator) Identifier() string { return it.current }

func (it *dirIterator) Err() error { return it.err }

func (it *dirIterator) Close() error { return it.dir.Close() }
