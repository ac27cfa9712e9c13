package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"app error wins", New(ErrMetadataIO, KindIndex, "x"), KindIndex},
		{"config", Configf("bad path %q", "a#b"), KindConfiguration},
		{"wrapped not found", fmt.Errorf("reading: %w", ErrRecordNotFound), KindRecord},
		{"unsupported", fmt.Errorf("field Title: %w", ErrUnsupportedValue), KindField},
		{"index io", fmt.Errorf("write: %w", ErrIndexIO), KindIndex},
		{"plain", fmt.Errorf("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", Newf(ErrUnknownIdentifier, KindRecord, "record %d", 3))
	assert.True(t, Is(err, ErrUnknownIdentifier))
	assert.Contains(t, err.Error(), "record 3")

	var appErr *AppError
	assert.True(t, As(err, &appErr))
	assert.Equal(t, "record", appErr.Kind.String())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrIndexIO, KindIndex, cause, "flushing segment")
	assert.True(t, Is(err, ErrIndexIO))
	assert.True(t, Is(err, cause))
	assert.Equal(t, "index i/o error: flushing segment: disk full", err.Error())
}
