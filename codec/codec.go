// Package codec implements Conserve's two streaming compressors: Snappy for
// small index hunks (whole-buffer) and Zstd for block payloads (streaming).
// It mirrors the wrapping go-git does around its object/pack compression
// (zlib there), generalized to the two algorithms spec.md section 4.B names.
package codec

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Snappy compresses and decompresses whole buffers. Index hunks are small
// enough (target ~1 MiB uncompressed) that a streaming API brings no benefit.
type Snappy struct{}

// Compress returns the Snappy-compressed form of raw.
func (Snappy) Compress(raw []byte) []byte {
	return snappy.Encode(nil, raw)
}

// Decompress returns the decompressed form of compressed.
func (Snappy) Decompress(compressed []byte) ([]byte, error) {
	return snappy.Decode(nil, compressed)
}

// ZstdLevel is the default Zstd compression level for block payloads.
const ZstdLevel = 3

// Zstd streams block payloads through Zstd at a fixed level.
type Zstd struct {
	level zstd.EncoderLevel
}

// NewZstd returns a Zstd codec at the given level, or ZstdLevel if level<=0.
func NewZstd(level int) Zstd {
	if level <= 0 {
		level = ZstdLevel
	}
	return Zstd{level: zstd.EncoderLevelFromZstd(level)}
}

// CompressTo streams raw through Zstd into w.
func (z Zstd) CompressTo(w io.Writer, raw io.Reader) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, raw); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Compress returns the Zstd-compressed form of raw.
func (z Zstd) Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := z.CompressTo(&buf, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress returns the decompressed form of compressed.
func (Zstd) Decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
