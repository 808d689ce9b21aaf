package rtlog

import "github.com/fieldscope-io/fieldscope/pkg/units"

// Wire format constants. See FORMAT.md for the full layout and the
// version compatibility table. These values are protocol constants;
// changing them breaks compatibility with existing logs.
const (
	// HeaderSize is the fixed file header length: 4 magic bytes, a uint16
	// version, and a uint16 flags word.
	HeaderSize = 8

	// Version1 is the initial format: schema, sample, and metadata records.
	Version1 uint16 = 1

	// Version2 adds compressed record blocks and the integrity trailer.
	Version2 uint16 = 2

	// CurrentVersion is the version the encoder writes by default.
	CurrentVersion = Version2
)

// magic identifies an rtlog buffer at offset 0.
var magic = [4]byte{'R', 'T', 'L', 'G'}

// Record tags. Decoders skip tags they do not recognize using the record
// length prefix, so future tags remain forward-compatible.
const (
	// TagSchema declares a field: id, value kind, and path key.
	TagSchema uint8 = 0x01

	// TagSample carries one timestamped value for a declared field.
	TagSample uint8 = 0x02

	// TagMetadata carries a CBOR map merged into the log metadata.
	TagMetadata uint8 = 0x03

	// TagBlock wraps a compressed run of records (version 2).
	TagBlock uint8 = 0x04

	// TagIntegrity is a BLAKE3 digest of every preceding byte and must be
	// the final record when present (version 2).
	TagIntegrity uint8 = 0x05
)

// TagName returns the name of a record tag for diagnostics, or "unknown"
// for tags outside the contract.
func TagName(tag uint8) string {
	switch tag {
	case TagSchema:
		return "schema"
	case TagSample:
		return "sample"
	case TagMetadata:
		return "metadata"
	case TagBlock:
		return "block"
	case TagIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Fixed payload section sizes.
const (
	recordHeaderSize = 5  // tag byte + uint32 payload length
	schemaFixedSize  = 7  // field id (4) + kind (1) + key length (2)
	sampleFixedSize  = 12 // field id (4) + timestamp (8)
	blockFixedSize   = 5  // codec tag (1) + raw length (4)
	integritySize    = 32 // BLAKE3-256 digest
	boolValueSize    = 1
	numberValueSize  = 8
)

// Decode limits, overridable via Options.
const (
	// DefaultMaxRecordSize caps a single record payload.
	DefaultMaxRecordSize = 64 * units.MiB

	// DefaultMaxBlockSize caps the decompressed size a block may declare,
	// bounding memory use for hostile buffers.
	DefaultMaxBlockSize = 256 * units.MiB
)
