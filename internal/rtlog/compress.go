package rtlog

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm of a block record. The values
// are stored on the wire (1 byte) and are protocol constants.
type Codec uint8

const (
	// CodecNone stores block content uncompressed. The encoder falls back
	// to this when compression does not shrink a block.
	CodecNone Codec = 0

	// CodecLZ4 is LZ4 block compression: fast decode, moderate ratio, the
	// default for live capture.
	CodecLZ4 Codec = 1

	// CodecZstd is zstd at the default level: better ratio for archived
	// logs at more CPU cost.
	CodecZstd Codec = 2
)

// String returns the codec's wire name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether c is a codec this package understands.
func (c Codec) Valid() bool {
	return c == CodecNone || c == CodecLZ4 || c == CodecZstd
}

// ParseCodec parses a codec from its wire name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown codec: %q", name)
	}
}

// errIncompressible signals that compressed output would not be smaller
// than the input; the encoder falls back to CodecNone for that block.
var errIncompressible = errors.New("data is incompressible")

// zstdEncoder and zstdDecoder are reused across calls. Both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("rtlog: zstd encoder initialization failed: " + err.Error())
	}

	// Hard memory cap independent of per-call limits; hostile frames cannot
	// allocate more than this no matter what rawLen they declare.
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(DefaultMaxBlockSize))
	if err != nil {
		panic("rtlog: zstd decoder initialization failed: " + err.Error())
	}
}

// compress compresses block content with the given codec. For CodecNone the
// input is returned unchanged. Returns errIncompressible when compression
// would not reduce the size.
func compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecLZ4:
		return compressLZ4(data)
	case CodecZstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported codec: %d", codec)
	}
}

// decompress reverses compress. rawLen must match the original content
// length exactly; any mismatch or codec failure is reported as an error.
func decompress(data []byte, codec Codec, rawLen int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(data) != rawLen {
			return nil, fmt.Errorf("stored block: size %d does not match declared %d", len(data), rawLen)
		}

		return data, nil
	case CodecLZ4:
		return decompressLZ4(data, rawLen)
	case CodecZstd:
		return decompressZstd(data, rawLen)
	default:
		return nil, fmt.Errorf("unsupported codec: %d", codec)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return destination[:written], nil
}

func decompressLZ4(data []byte, rawLen int) ([]byte, error) {
	destination := make([]byte, rawLen)

	read, err := lz4.UncompressBlock(data, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}

	if read != rawLen {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, declared %d", read, rawLen)
	}

	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}

	return compressed, nil
}

func decompressZstd(data []byte, rawLen int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}

	if len(result) != rawLen {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, declared %d", len(result), rawLen)
	}

	return result, nil
}
