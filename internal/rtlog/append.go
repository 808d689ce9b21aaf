package rtlog

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
	"github.com/fieldscope-io/fieldscope/pkg/safeconv"
)

// Record-level builders. Each appends one complete record (tag, length,
// payload) to dst and returns the extended slice, in the idiom of the
// encoding/binary Append functions. EncodeLog is built on these; tests and
// generators use them to lay out buffers record by record.

// AppendHeader appends the 8-byte file header for the given format version.
func AppendHeader(dst []byte, version uint16) []byte {
	dst = append(dst, magic[:]...)
	dst = binary.LittleEndian.AppendUint16(dst, version)

	return binary.LittleEndian.AppendUint16(dst, 0)
}

// AppendSchema appends a schema record declaring field id with the given
// kind and key.
func AppendSchema(dst []byte, id uint32, kind telemetry.Kind, key string) ([]byte, error) {
	if len(key) > int(safeconv.MaxUint16) {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}

	payload := make([]byte, 0, schemaFixedSize+len(key))
	payload = binary.LittleEndian.AppendUint32(payload, id)
	payload = append(payload, byte(kind))
	payload = binary.LittleEndian.AppendUint16(payload, safeconv.MustIntToUint16(len(key)))
	payload = append(payload, key...)

	return appendRecord(dst, TagSchema, payload), nil
}

// AppendSample appends a sample record for field id. The value bytes must
// already carry the wire encoding of the field's kind.
func AppendSample(dst []byte, id uint32, timestamp float64, value []byte) ([]byte, error) {
	if len(value) > int(safeconv.MaxUint32)-sampleFixedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}

	payload := make([]byte, 0, sampleFixedSize+len(value))
	payload = binary.LittleEndian.AppendUint32(payload, id)
	payload = binary.LittleEndian.AppendUint64(payload, math.Float64bits(timestamp))
	payload = append(payload, value...)

	return appendRecord(dst, TagSample, payload), nil
}

// AppendMetadata appends a metadata record holding the entries as a CBOR
// map. Decoders merge metadata records later-wins.
func AppendMetadata(dst []byte, entries map[string]any) ([]byte, error) {
	encoded, err := cborEnc.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	return appendRecord(dst, TagMetadata, encoded), nil
}

func appendRecord(dst []byte, tag uint8, payload []byte) []byte {
	dst = append(dst, tag)
	dst = binary.LittleEndian.AppendUint32(dst, safeconv.MustIntToUint32(len(payload)))

	return append(dst, payload...)
}
