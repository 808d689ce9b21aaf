// Package rtlog implements the rtlog binary telemetry log format: a
// versioned header followed by self-describing records (type tag, length
// prefix, payload) carrying field schemas, timestamped samples, metadata,
// compressed record blocks, and an integrity trailer. FORMAT.md documents
// the byte layout and the version compatibility table.
//
// Decode is a pure function over its input buffer: no I/O, no shared state,
// deterministic, and safe to call from any goroutine.
package rtlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zeebo/blake3"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

// Options bounds resource use during decode. Zero values select the package
// defaults.
type Options struct {
	// MaxRecordSize caps a single record payload in bytes.
	MaxRecordSize int

	// MaxBlockSize caps the decompressed size a block record may declare.
	MaxBlockSize int
}

func (o Options) withDefaults() Options {
	if o.MaxRecordSize <= 0 {
		o.MaxRecordSize = DefaultMaxRecordSize
	}

	if o.MaxBlockSize <= 0 {
		o.MaxBlockSize = DefaultMaxBlockSize
	}

	return o
}

// Decode parses an rtlog buffer into a telemetry log using default limits.
//
// Failures are reported as ErrFormat, ErrTruncated, ErrUnsupportedVersion,
// or ErrChecksum, each wrapped with offset context. Unknown record tags are
// skipped via their length prefix, so records from newer writers do not
// abort decoding.
func Decode(buf []byte) (*telemetry.Log, error) {
	return DecodeWithOptions(buf, Options{})
}

// DecodeWithOptions is Decode with explicit resource limits.
func DecodeWithOptions(buf []byte, opts Options) (*telemetry.Log, error) {
	version, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}

	dec := &decoder{
		buf:     buf,
		version: version,
		opts:    opts.withDefaults(),
		log:     telemetry.NewLog(),
		fields:  make(map[uint32]*telemetry.Field),
	}

	if err := dec.scan(buf[HeaderSize:], HeaderSize, true); err != nil {
		return nil, err
	}

	return dec.log, nil
}

// parseHeader validates the fixed file header and returns the format
// version. A buffer that ends inside the header is truncated as long as the
// magic bytes match as far as they are present; otherwise it is not an
// rtlog buffer at all.
func parseHeader(buf []byte) (uint16, error) {
	prefix := min(len(buf), len(magic))
	if !bytes.Equal(buf[:prefix], magic[:prefix]) {
		return 0, fmt.Errorf("%w: bad magic bytes", ErrFormat)
	}

	if len(buf) < HeaderSize {
		return 0, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(buf), HeaderSize)
	}

	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != Version1 && version != Version2 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	if flags := binary.LittleEndian.Uint16(buf[6:8]); flags != 0 {
		return 0, fmt.Errorf("%w: reserved flags 0x%04x", ErrFormat, flags)
	}

	return version, nil
}

type decoder struct {
	buf     []byte
	version uint16
	opts    Options
	log     *telemetry.Log
	fields  map[uint32]*telemetry.Field
}

// scan iterates the records of one section: the whole top-level record
// stream, or the decompressed content of a block. base is the section's
// offset within the original buffer, used for error context and for the
// integrity digest boundary.
func (d *decoder) scan(section []byte, base int, topLevel bool) error {
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

		if length64 > uint64(d.opts.MaxRecordSize) {
			return fmt.Errorf("%w: record at offset %d declares %d bytes, limit is %d",
				ErrFormat, recordStart, length64, d.opts.MaxRecordSize)
		}

		length := int(length64)
		if length > len(section)-pos {
			return fmt.Errorf("%w: record at offset %d declares %d bytes, %d remain",
				ErrTruncated, recordStart, length, len(section)-pos)
		}

		payload := section[pos : pos+length]
		pos += length

		var err error

		switch {
		case tag == TagSchema:
			err = d.schemaRecord(payload, recordStart)
		case tag == TagSample:
			err = d.sampleRecord(payload, recordStart)
		case tag == TagMetadata:
			err = d.metadataRecord(payload, recordStart)
		case tag == TagBlock && d.version >= Version2:
			if !topLevel {
				return fmt.Errorf("%w: nested block at offset %d", ErrFormat, recordStart)
			}

			err = d.blockRecord(payload, recordStart)
		case tag == TagIntegrity && d.version >= Version2:
			if !topLevel {
				return fmt.Errorf("%w: integrity record inside block", ErrFormat)
			}

			err = d.integrityRecord(payload, recordStart)
			sealed = true
		default:
			// Unknown tag: skip the payload. In version 1 buffers this also
			// covers block and integrity tags, which v1 does not define.
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (d *decoder) schemaRecord(payload []byte, offset int) error {
	if len(payload) < schemaFixedSize {
		return fmt.Errorf("%w: schema record at offset %d is %d bytes", ErrFormat, offset, len(payload))
	}

	id := binary.LittleEndian.Uint32(payload[0:4])
	kind := telemetry.Kind(payload[4])
	keyLen := int(binary.LittleEndian.Uint16(payload[5:7]))

	if len(payload) != schemaFixedSize+keyLen {
		return fmt.Errorf("%w: schema record at offset %d declares key length %d in a %d byte payload",
			ErrFormat, offset, keyLen, len(payload))
	}

	if _, exists := d.fields[id]; exists {
		return fmt.Errorf("%w: schema record at offset %d redefines field id %d", ErrFormat, offset, id)
	}

	field, err := d.log.DefineField(string(payload[schemaFixedSize:]), kind)
	if err != nil {
		return fmt.Errorf("%w: schema record at offset %d: %w", ErrFormat, offset, err)
	}

	d.fields[id] = field

	return nil
}

func (d *decoder) sampleRecord(payload []byte, offset int) error {
	if len(payload) < sampleFixedSize {
		return fmt.Errorf("%w: sample record at offset %d is %d bytes", ErrFormat, offset, len(payload))
	}

	id := binary.LittleEndian.Uint32(payload[0:4])

	field, ok := d.fields[id]
	if !ok {
		return fmt.Errorf("%w: sample record at offset %d references undefined field id %d",
			ErrFormat, offset, id)
	}

	timestamp := math.Float64frombits(binary.LittleEndian.Uint64(payload[4:sampleFixedSize]))

	value, err := decodeValue(field.Kind(), payload[sampleFixedSize:])
	if err != nil {
		return fmt.Errorf("%w: sample record at offset %d for field %q: %v",
			ErrFormat, offset, field.Key(), err)
	}

	if err := field.Append(timestamp, value); err != nil {
		return fmt.Errorf("%w: sample record at offset %d: %w", ErrFormat, offset, err)
	}

	return nil
}

// decodeValue decodes a sample value payload according to the field kind.
// String and byte values are copied so the log does not alias the input
// buffer.
func decodeValue(kind telemetry.Kind, raw []byte) (any, error) {
	switch kind {
	case telemetry.KindBoolean:
		if len(raw) != boolValueSize {
			return nil, fmt.Errorf("boolean value is %d bytes", len(raw))
		}

		switch raw[0] {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return nil, fmt.Errorf("boolean value byte 0x%02x", raw[0])
		}
	case telemetry.KindNumber:
		if len(raw) != numberValueSize {
			return nil, fmt.Errorf("number value is %d bytes", len(raw))
		}

		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
	case telemetry.KindString:
		return string(raw), nil
	case telemetry.KindBytes:
		return bytes.Clone(raw), nil
	case telemetry.KindRecord:
		var value map[string]any
		if err := cborDec.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("record value: %v", err)
		}

		return value, nil
	default:
		return nil, fmt.Errorf("field kind %d", kind)
	}
}

func (d *decoder) metadataRecord(payload []byte, offset int) error {
	var entries map[string]any
	if err := cborDec.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("%w: metadata record at offset %d: %v", ErrFormat, offset, err)
	}

	// Later metadata records win on key collisions.
	for key, value := range entries {
		d.log.Metadata[key] = value
	}

	return nil
}

func (d *decoder) blockRecord(payload []byte, offset int) error {
	if len(payload) < blockFixedSize {
		return fmt.Errorf("%w: block record at offset %d is %d bytes", ErrFormat, offset, len(payload))
	}

	codec := Codec(payload[0])
	if !codec.Valid() {
		return fmt.Errorf("%w: block at offset %d uses %s codec", ErrFormat, offset, codec)
	}

	rawLen64 := uint64(binary.LittleEndian.Uint32(payload[1:blockFixedSize]))
	if rawLen64 > uint64(d.opts.MaxBlockSize) {
		return fmt.Errorf("%w: block at offset %d declares %d decompressed bytes, limit is %d",
			ErrFormat, offset, rawLen64, d.opts.MaxBlockSize)
	}

	content, err := decompress(payload[blockFixedSize:], codec, int(rawLen64))
	if err != nil {
		return fmt.Errorf("%w: block at offset %d: %v", ErrFormat, offset, err)
	}

	// Inner offsets are relative to the decompressed block content.
	if err := d.scan(content, 0, false); err != nil {
		return fmt.Errorf("block at offset %d: %w", offset, err)
	}

	return nil
}

func (d *decoder) integrityRecord(payload []byte, offset int) error {
	if len(payload) != integritySize {
		return fmt.Errorf("%w: integrity record at offset %d is %d bytes", ErrFormat, offset, len(payload))
	}

	digest := blake3.Sum256(d.buf[:offset])
	if !bytes.Equal(digest[:], payload) {
		return fmt.Errorf("%w: record at offset %d", ErrChecksum, offset)
	}

	return nil
}
