package rtlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zeebo/blake3"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// Header is the parsed file header.
type Header struct {
	Version uint16
}

// RecordInfo describes one record encountered during a Walk. Fields beyond
// Offset, Depth, Tag, and PayloadLen are populated per tag.
type RecordInfo struct {
	// Offset of the record's tag byte. At depth 1 the offset is relative to
	// the decompressed content of the enclosing block.
	Offset int

	// Depth is 0 for top-level records and 1 inside a block.
	Depth int

	Tag        uint8
	PayloadLen int

	// Schema records.
	FieldID   uint32
	FieldKey  string
	FieldKind telemetry.Kind

	// Sample records.
	SampleFieldID uint32
	Timestamp     float64

	// Block records.
	BlockCodec  Codec
	BlockRawLen int

	// Integrity records. DigestOK reports whether the digest matches; a
	// mismatch is reported here rather than as an error so tooling can show
	// corrupt trailers.
	DigestOK bool
}

// Name returns the record's tag name.
func (r RecordInfo) Name() string {
	return TagName(r.Tag)
}

// Walk parses the header and visits every record, descending into
// compressed blocks, without building a log. It validates record structure
// (lengths, kinds, codecs) with the same error kinds as Decode but performs
// no cross-record checks: duplicate fields, undefined sample ids, and
// timestamp order are not enforced. Visit errors abort the walk and are
// returned unchanged.
func Walk(buf []byte, visit func(RecordInfo) error) (Header, error) {
	version, err := parseHeader(buf)
	if err != nil {
		return Header{}, err
	}

	header := Header{Version: version}

	walker := &walker{buf: buf, version: version, opts: Options{}.withDefaults(), visit: visit}
	if err := walker.scan(buf[HeaderSize:], HeaderSize, 0); err != nil {
		return header, err
	}

	return header, nil
}

type walker struct {
	buf     []byte
	version uint16
	opts    Options
	visit   func(RecordInfo) error
}

func (w *walker) scan(section []byte, base int, depth int) error {
	pos := 0
	sealed := false

	for pos < len(section) {
		recordStart := base + pos

		if sealed {
			return fmt.Errorf("%w: record after integrity trailer at offset %d", ErrFormat, recordStart)
		}

		if len(section)-pos < recordHeaderSize {
			return fmt.Errorf("%w: record header at offset %d", ErrTruncated, recordStart)
		}

		tag := section[pos]
		length64 := uint64(binary.LittleEndian.Uint32(section[pos+1 : pos+recordHeaderSize]))
		pos += recordHeaderSize

		if length64 > uint64(w.opts.MaxRecordSize) {
			return fmt.Errorf("%w: record at offset %d declares %d bytes, limit is %d",
				ErrFormat, recordStart, length64, w.opts.MaxRecordSize)
		}

		length := int(length64)
		if length > len(section)-pos {
			return fmt.Errorf("%w: record at offset %d declares %d bytes, %d remain",
				ErrTruncated, recordStart, length, len(section)-pos)
		}

		payload := section[pos : pos+length]
		pos += length

		info := RecordInfo{
			Offset:     recordStart,
			Depth:      depth,
			Tag:        tag,
			PayloadLen: length,
		}

		var content []byte // decompressed block content, scanned after the visit

		switch {
		case tag == TagSchema:
			if err := fillSchemaInfo(&info, payload, recordStart); err != nil {
				return err
			}
		case tag == TagSample:
			if len(payload) < sampleFixedSize {
				return fmt.Errorf("%w: sample record at offset %d is %d bytes", ErrFormat, recordStart, len(payload))
			}

			info.SampleFieldID = binary.LittleEndian.Uint32(payload[0:4])
			info.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(payload[4:sampleFixedSize]))
		case tag == TagBlock && w.version >= Version2:
			if depth > 0 {
				return fmt.Errorf("%w: nested block at offset %d", ErrFormat, recordStart)
			}

			decompressed, err := w.fillBlockInfo(&info, payload, recordStart)
			if err != nil {
				return err
			}

			content = decompressed
		case tag == TagIntegrity && w.version >= Version2:
			if depth > 0 {
				return fmt.Errorf("%w: integrity record inside block", ErrFormat)
			}

			if length != integritySize {
				return fmt.Errorf("%w: integrity record at offset %d is %d bytes", ErrFormat, recordStart, length)
			}

			digest := blake3.Sum256(w.buf[:recordStart])
			info.DigestOK = bytes.Equal(digest[:], payload)
			sealed = true
		}

		if err := w.visit(info); err != nil {
			return err
		}

		if content != nil {
			if err := w.scan(content, 0, depth+1); err != nil {
				return fmt.Errorf("block at offset %d: %w", recordStart, err)
			}
		}
	}

	return nil
}

func fillSchemaInfo(info *RecordInfo, payload []byte, offset int) error {
	if len(payload) < schemaFixedSize {
		return fmt.Errorf("%w: schema record at offset %d is %d bytes", ErrFormat, offset, len(payload))
	}

	keyLen := int(binary.LittleEndian.Uint16(payload[5:7]))
	if len(payload) != schemaFixedSize+keyLen {
		return fmt.Errorf("%w: schema record at offset %d declares key length %d in a %d byte payload",
			ErrFormat, offset, keyLen, len(payload))
	}

	info.FieldID = binary.LittleEndian.Uint32(payload[0:4])
	info.FieldKind = telemetry.Kind(payload[4])
	info.FieldKey = string(payload[schemaFixedSize:])

	return nil
}

func (w *walker) fillBlockInfo(info *RecordInfo, payload []byte, offset int) ([]byte, error) {
	if len(payload) < blockFixedSize {
		return nil, fmt.Errorf("%w: block record at offset %d is %d bytes", ErrFormat, offset, len(payload))
	}

	codec := Codec(payload[0])
	if !codec.Valid() {
		return nil, fmt.Errorf("%w: block at offset %d uses %s codec", ErrFormat, offset, codec)
	}

	rawLen64 := uint64(binary.LittleEndian.Uint32(payload[1:blockFixedSize]))
	if rawLen64 > uint64(w.opts.MaxBlockSize) {
		return nil, fmt.Errorf("%w: block at offset %d declares %d decompressed bytes, limit is %d",
			ErrFormat, offset, rawLen64, w.opts.MaxBlockSize)
	}

	content, err := decompress(payload[blockFixedSize:], codec, int(rawLen64))
	if err != nil {
		return nil, fmt.Errorf("%w: block at offset %d: %v", ErrFormat, offset, err)
	}

	info.BlockCodec = codec
	info.BlockRawLen = int(rawLen64)

	return content, nil
}
