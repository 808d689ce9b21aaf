package rtlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/zeebo/blake3"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
	"github.com/fieldscope-io/fieldscope/pkg/safeconv"
	"github.com/fieldscope-io/fieldscope/pkg/units"
)

// Encoder configuration errors.
var (
	ErrEncoderVersion   = errors.New("encoder version must be 1 or 2")
	ErrEncoderCodec     = errors.New("block compression requires format version 2")
	ErrEncoderIntegrity = errors.New("integrity trailer requires format version 2")
	ErrKeyTooLong       = errors.New("field key exceeds 65535 bytes")
	ErrValueTooLarge    = errors.New("encoded value exceeds the record size limit")
)

// DefaultBlockSize is the record-block flush threshold when compression is
// enabled.
const DefaultBlockSize = 64 * units.KiB

// Encoder turns a telemetry log into an rtlog buffer. The zero-argument
// NewEncoder writes the current format version without compression or an
// integrity trailer; options opt in to the version 2 features.
type Encoder struct {
	version   uint16
	codec     Codec
	integrity bool
	blockSize int
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithVersion selects the format version to write.
func WithVersion(version uint16) EncoderOption {
	return func(e *Encoder) { e.version = version }
}

// WithCompression groups records into blocks compressed with the given
// codec. Blocks that do not shrink are stored uncompressed.
func WithCompression(codec Codec) EncoderOption {
	return func(e *Encoder) { e.codec = codec }
}

// WithIntegrity appends a BLAKE3 digest of the encoded buffer as the final
// record.
func WithIntegrity() EncoderOption {
	return func(e *Encoder) { e.integrity = true }
}

// WithBlockSize overrides the block flush threshold. Values below one byte
// keep the default.
func WithBlockSize(size int) EncoderOption {
	return func(e *Encoder) {
		if size > 0 {
			e.blockSize = size
		}
	}
}

// NewEncoder returns an encoder configured by opts.
func NewEncoder(opts ...EncoderOption) *Encoder {
	enc := &Encoder{
		version:   CurrentVersion,
		codec:     CodecNone,
		blockSize: DefaultBlockSize,
	}

	for _, opt := range opts {
		opt(enc)
	}

	return enc
}

// EncodeLog encodes a complete log: header, one schema record per field in
// definition order, a metadata record when metadata is present, then every
// sample in field order. Decoding the result yields a log Equal to the
// input.
func (e *Encoder) EncodeLog(log *telemetry.Log) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	state := &encodeState{
		codec:     e.codec,
		blockSize: e.blockSize,
	}

	state.out = AppendHeader(state.out, e.version)

	for i, field := range log.Fields() {
		// Field ids are assigned sequentially from 1 in definition order.
		if err := state.schema(safeconv.MustIntToUint32(i+1), field); err != nil {
			return nil, err
		}
	}

	if len(log.Metadata) > 0 {
		if err := state.metadata(log.Metadata); err != nil {
			return nil, err
		}
	}

	for i, field := range log.Fields() {
		id := safeconv.MustIntToUint32(i + 1)
		for _, sample := range field.Samples() {
			if err := state.sample(id, field, sample); err != nil {
				return nil, err
			}
		}
	}

	if err := state.flush(); err != nil {
		return nil, err
	}

	if e.integrity {
		digest := blake3.Sum256(state.out)
		state.out = appendRecord(state.out, TagIntegrity, digest[:])
	}

	return state.out, nil
}

// Validate checks the configured version against the options that require
// version 2.
func (e *Encoder) Validate() error {
	switch e.version {
	case Version1:
		if e.codec != CodecNone {
			return ErrEncoderCodec
		}

		if e.integrity {
			return ErrEncoderIntegrity
		}

		return nil
	case Version2:
		return nil
	default:
		return fmt.Errorf("%w: got %d", ErrEncoderVersion, e.version)
	}
}

// encodeState accumulates output. With a codec configured, records collect
// in a pending block that is flushed once it reaches the threshold; without
// one, records append straight to the output.
type encodeState struct {
	out       []byte
	block     []byte
	codec     Codec
	blockSize int
}

func (s *encodeState) schema(id uint32, field *telemetry.Field) error {
	record, err := AppendSchema(nil, id, field.Kind(), field.Key())
	if err != nil {
		return err
	}

	return s.append(record)
}

func (s *encodeState) metadata(entries map[string]any) error {
	record, err := AppendMetadata(nil, entries)
	if err != nil {
		return err
	}

	return s.append(record)
}

func (s *encodeState) sample(id uint32, field *telemetry.Field, sample telemetry.Sample) error {
	value, err := encodeValue(field, sample.Value)
	if err != nil {
		return err
	}

	record, err := AppendSample(nil, id, sample.Timestamp, value)
	if err != nil {
		return fmt.Errorf("field %q: %w", field.Key(), err)
	}

	return s.append(record)
}

func encodeValue(field *telemetry.Field, value any) ([]byte, error) {
	switch field.Kind() {
	case telemetry.KindBoolean:
		v, ok := value.(bool)
		if !ok {
			return nil, valueKindError(field, value)
		}

		if v {
			return []byte{1}, nil
		}

		return []byte{0}, nil
	case telemetry.KindNumber:
		v, ok := value.(float64)
		if !ok {
			return nil, valueKindError(field, value)
		}

		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)), nil
	case telemetry.KindString:
		v, ok := value.(string)
		if !ok {
			return nil, valueKindError(field, value)
		}

		return []byte(v), nil
	case telemetry.KindBytes:
		v, ok := value.([]byte)
		if !ok {
			return nil, valueKindError(field, value)
		}

		return v, nil
	case telemetry.KindRecord:
		v, ok := value.(map[string]any)
		if !ok {
			return nil, valueKindError(field, value)
		}

		encoded, err := cborEnc.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode record value for field %q: %w", field.Key(), err)
		}

		return encoded, nil
	default:
		return nil, fmt.Errorf("%w: field %q kind %d", telemetry.ErrInvalidKind, field.Key(), field.Kind())
	}
}

func valueKindError(field *telemetry.Field, value any) error {
	return fmt.Errorf("%w: field %q expects %s, got %T",
		telemetry.ErrValueKind, field.Key(), field.Kind(), value)
}

func (s *encodeState) append(record []byte) error {
	if s.codec == CodecNone {
		s.out = append(s.out, record...)

		return nil
	}

	s.block = append(s.block, record...)
	if len(s.block) >= s.blockSize {
		return s.flush()
	}

	return nil
}

// flush wraps the pending block content in a block record, falling back to
// uncompressed storage when the codec does not shrink it.
func (s *encodeState) flush() error {
	if len(s.block) == 0 {
		return nil
	}

	codec := s.codec

	compressed, err := compress(s.block, codec)
	if errors.Is(err, errIncompressible) {
		compressed, codec, err = s.block, CodecNone, nil
	}

	if err != nil {
		return fmt.Errorf("compress block: %w", err)
	}

	payload := make([]byte, 0, blockFixedSize+len(compressed))
	payload = append(payload, byte(codec))
	payload = binary.LittleEndian.AppendUint32(payload, safeconv.MustIntToUint32(len(s.block)))
	payload = append(payload, compressed...)

	s.out = appendRecord(s.out, TagBlock, payload)
	s.block = s.block[:0]

	return nil
}
