// Package reader provides access to the stored metadata records: listing
// their identifiers and decoding individual entries.
package reader

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/dublincore"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/ebrim"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/iso"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/xmlnode"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

// Reader is the metadata source consumed by the indexer.
type Reader interface {
	AllIdentifiers(ctx context.Context) ([]string, error)
	Entry(ctx context.Context, id string) (metadata.Record, error)
	// AdditionalQueryables maps extra field names to the paths that feed
	// them. It may be nil.
	AdditionalQueryables() map[string][]string
}

// IdentifierIterator streams identifiers without materialising the full list.
type IdentifierIterator interface {
	Next() bool
	Identifier() string
	Err() error
	Close() error
}

// Streaming is implemented by readers that can iterate identifiers lazily.
type Streaming interface {
	Identifiers(ctx context.Context) (IdentifierIterator, error)
}

// Mode selects how record bytes become a metadata.Record.
type Mode string

const (
	// ModeTyped decodes known standards into their typed models and falls
	// back to the element tree for the rest.
	ModeTyped Mode = "typed"
	// ModeNode always uses the element tree.
	ModeNode Mode = "node"
)

// ParseMode accepts the configuration spelling of a decode mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeTyped:
		return ModeTyped, nil
	case ModeNode:
		return ModeNode, nil
	}
	return "", apperrors.Configf("unknown decode mode %q", s)
}

// Decode turns one stored document into a record.
func Decode(data []byte, mode Mode) (metadata.Record, error) {
	root, err := rootName(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindRecord, err, "reading root element")
	}

	if mode == ModeTyped {
		rec, err := decodeTyped(root, data)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindRecord, err, "decoding "+root.Local)
		}
		if rec != nil {
			return rec, nil
		}
	}

	el, err := xmlnode.Parse(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindRecord, err, "parsing document")
	}
	return el, nil
}

// decodeTyped returns nil, nil for roots without a typed model.
func decodeTyped(root xml.Name, data []byte) (metadata.Record, error) {
	std, _ := metadata.DetectName(root)
	switch std {
	case metadata.ISO19139:
		return iso.Decode(data)
	case metadata.DublinCore:
		return dublincore.Decode(data)
	case metadata.Ebrim25:
		return ebrim.Decode(data, ebrim.V25)
	case metadata.Ebrim30:
		return ebrim.Decode(data, ebrim.V30)
	}
	return nil, nil
}

func rootName(data []byte) (xml.Name, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return xml.Name{}, io.ErrUnexpectedEOF
		}
		if err != nil {
			return xml.Name{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name, nil
		}
	}
}
