package linmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUTF8_Valid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"ascii", "a,b\n1,2\n"},
		{"multibyte", "grüße, 世界 🎵"},
		{"bom kept", "\ufeffhello"},
		{"replacement char is valid", "\ufffd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := &fakeMemory{buf: make([]byte, 64)}
			copy(mem.buf[3:], tt.text)
			v := NewView(mem)

			got, err := DecodeUTF8(v, 3, uint32(len(tt.text)))
			require.NoError(t, err)
			assert.Equal(t, tt.text, got)
		})
	}
}

func TestDecodeUTF8_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"lone continuation", []byte{'o', 'k', 0x80}},
		{"truncated sequence", []byte{'a', 0xE2, 0x82}},
		{"overlong", []byte{0xC0, 0xAF}},
		{"surrogate", []byte{0xED, 0xA0, 0x80}},
		{"invalid start byte", []byte{0xFF, 'a'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := &fakeMemory{buf: make([]byte, 16)}
			copy(mem.buf, tt.data)
			v := NewView(mem)

			got, err := DecodeUTF8(v, 0, uint32(len(tt.data)))
			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr)
			assert.Empty(t, got, "no partial output on failure")
			assert.Equal(t, uint32(len(tt.data)), decodeErr.Length)
		})
	}
}

func TestDecodeUTF8_OutOfRange(t *testing.T) {
	v := NewView(&fakeMemory{buf: make([]byte, 4)})

	_, err := DecodeUTF8(v, 2, 10)
	var accessErr *MemoryAccessError
	require.ErrorAs(t, err, &accessErr)
}
