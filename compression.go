package recorder

import (
	"bufio"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// CompressionType identifies the compression applied to a WARC stream.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionGZIP
	CompressionZSTD
	CompressionXZ
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGZIP:
		return "gzip"
	case CompressionZSTD:
		return "zstd"
	case CompressionXZ:
		return "xz"
	}
	return "unknown"
}

// guessCompression returns the compression type of a data stream by matching
// its first bytes against the magic numbers of the supported formats.
func guessCompression(b *bufio.Reader) (CompressionType, error) {
	magic, err := b.Peek(6)
	if err != nil {
		if err == io.EOF {
			return CompressionNone, nil
		}
		if len(magic) < 2 {
			return CompressionNone, err
		}
	}
	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return CompressionGZIP, nil
	case len(magic) >= 4 && magic[0] == 0x28 && magic[1] == 0xb5 && magic[2] == 0x2f && magic[3] == 0xfd:
		return CompressionZSTD, nil
	case len(magic) >= 6 && magic[0] == 0xfd && magic[1] == '7' && magic[2] == 'z' && magic[3] == 'X' && magic[4] == 'Z' && magic[5] == 0x00:
		return CompressionXZ, nil
	}
	return CompressionNone, nil
}

// newDecompressor wraps b according to the detected compression. GZIP is not
// handled here: gzip WARC files are read member by member so that record
// offsets can be reported.
func newDecompressor(c CompressionType, b *bufio.Reader) (io.Reader, error) {
	switch c {
	case CompressionZSTD:
		zr, err := zstd.NewReader(b)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case CompressionXZ:
		return xz.NewReader(b)
	default:
		return b, nil
	}
}
