package sensorio

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// decompress strips a .zst or .lz4 suffix from name and inflates data
// accordingly. Other names are returned untouched.
func decompress(name string, data []byte) (string, []byte, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".zst":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return "", nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return "", nil, fmt.Errorf("zstd decode %s: %w", name, err)
		}
		return strings.TrimSuffix(name, filepath.Ext(name)), out, nil
	case ".lz4":
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return "", nil, fmt.Errorf("lz4 decode %s: %w", name, err)
		}
		return strings.TrimSuffix(name, filepath.Ext(name)), out, nil
	default:
		return name, data, nil
	}
}
