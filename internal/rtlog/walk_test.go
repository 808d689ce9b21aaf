package rtlog

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/fieldscope-io/fieldscope/internal/telemetry"
)

func TestWalk_RecordSequence(t *testing.T) {
	t.Parallel()

	buf := header(Version2)
	buf = appendRecord(buf, TagSchema, schemaPayload(1, telemetry.KindNumber, "/voltage"))
	buf = appendRecord(buf, TagSchema, schemaPayload(2, telemetry.KindBoolean, "/enabled"))
	buf = appendRecord(buf, TagSample, samplePayload(1, 0.5, binary.LittleEndian.AppendUint64(nil, math.Float64bits(12.6))))
	buf = appendRecord(buf, TagSample, samplePayload(2, 1.0, []byte{1}))

	var visited []RecordInfo

	hdr, err := Walk(buf, func(info RecordInfo) error {
		visited = append(visited, info)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, hdr.Version)

	require.Len(t, visited, 4)

	assert.Equal(t, TagSchema, visited[0].Tag)
	assert.Equal(t, "schema", visited[0].Name())
	assert.Equal(t, HeaderSize, visited[0].Offset)
	assert.Equal(t, uint32(1), visited[0].FieldID)
	assert.Equal(t, "/voltage", visited[0].FieldKey)
	assert.Equal(t, telemetry.KindNumber, visited[0].FieldKind)

	assert.Equal(t, "/enabled", visited[1].FieldKey)
	assert.Equal(t, telemetry.KindBoolean, visited[1].FieldKind)

	assert.Equal(t, TagSample, visited[2].Tag)
	assert.Equal(t, uint32(1), visited[2].SampleFieldID)
	assert.Equal(t, 0.5, visited[2].Timestamp)

	assert.Equal(t, uint32(2), visited[3].SampleFieldID)
	assert.Equal(t, 1.0, visited[3].Timestamp)

	for i, info := range visited {
		assert.Equal(t, 0, info.Depth)

		if i > 0 {
			assert.Greater(t, info.Offset, visited[i-1].Offset)
		}
	}
}

func TestWalk_HeaderVersion(t *testing.T) {
	t.Parallel()

	hdr, err := Walk(header(Version1), func(RecordInfo) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Version1, hdr.Version)

	_, err = Walk(header(7), func(RecordInfo) error { return nil })
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestWalk_DescendsIntoBlocks(t *testing.T) {
	t.Parallel()

	log := richLog(t)

	buf, err := NewEncoder(WithCompression(CodecZstd), WithBlockSize(128)).EncodeLog(log)
	require.NoError(t, err)

	var (
		blocks   int
		schemas  int
		samples  int
		metadata int
	)

	_, err = Walk(buf, func(info RecordInfo) error {
		switch info.Tag {
		case TagBlock:
			assert.Equal(t, 0, info.Depth)
			assert.True(t, info.BlockCodec.Valid())
			assert.Positive(t, info.BlockRawLen)

			blocks++
		case TagSchema:
			assert.Equal(t, 1, info.Depth)

			schemas++
		case TagSample:
			assert.Equal(t, 1, info.Depth)

			samples++
		case TagMetadata:
			assert.Equal(t, 1, info.Depth)

			metadata++
		}

		return nil
	})
	require.NoError(t, err)

	assert.Greater(t, blocks, 1)
	assert.Equal(t, log.FieldCount(), schemas)
	assert.Equal(t, log.SampleCount(), samples)
	assert.Equal(t, 1, metadata)
}

func TestWalk_DigestReporting(t *testing.T) {
	t.Parallel()

	buf := header(Version2)
	buf = appendRecord(buf, TagSchema, schemaPayload(1, telemetry.KindBoolean, "/ok"))
	buf = appendRecord(buf, TagSample, samplePayload(1, 0.0, []byte{1}))

	digest := blake3.Sum256(buf)
	buf = appendRecord(buf, TagIntegrity, digest[:])

	lastInfo := func(buf []byte) RecordInfo {
		var last RecordInfo

		_, err := Walk(buf, func(info RecordInfo) error {
			last = info

			return nil
		})
		require.NoError(t, err)

		return last
	}

	last := lastInfo(buf)
	assert.Equal(t, TagIntegrity, last.Tag)
	assert.True(t, last.DigestOK)

	// Flip the sample value. The buffer stays structurally valid, so the
	// walk succeeds and reports the stale digest instead of failing.
	corrupted := append([]byte{}, buf...)
	corrupted[len(corrupted)-integritySize-recordHeaderSize-1] = 0

	last = lastInfo(corrupted)
	assert.Equal(t, TagIntegrity, last.Tag)
	assert.False(t, last.DigestOK)
}

func TestWalk_VisitErrorAborts(t *testing.T) {
	t.Parallel()

	buf := header(Version2)
	buf = appendRecord(buf, TagSchema, schemaPayload(1, telemetry.KindBoolean, "/ok"))
	buf = appendRecord(buf, TagSample, samplePayload(1, 0.0, []byte{1}))
	buf = appendRecord(buf, TagSample, samplePayload(1, 1.0, []byte{0}))

	errStop := errors.New("enough")
	visits := 0

	_, err := Walk(buf, func(info RecordInfo) error {
		visits++
		if info.Tag == TagSample {
			return errStop
		}

		return nil
	})

	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, 2, visits)
}

func TestWalk_SkipsCrossRecordChecks(t *testing.T) {
	t.Parallel()

	// A sample for a field no schema declares, plus an unrecognized tag.
	// Decode rejects the buffer; Walk only checks structure.
	buf := header(Version1)
	buf = appendRecord(buf, TagSample, samplePayload(9, 2.0, []byte{1}))
	buf = appendRecord(buf, 0x7F, []byte{0xDE, 0xAD})

	var tags []uint8

	_, err := Walk(buf, func(info RecordInfo) error {
		tags = append(tags, info.Tag)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint8{TagSample, 0x7F}, tags)

	_, err = Decode(buf)
	require.Error(t, err)
}

func TestWalk_StructuralErrors(t *testing.T) {
	t.Parallel()

	t.Run("bad_magic", func(t *testing.T) {
		t.Parallel()

		_, err := Walk([]byte("WPILOG\x00\x00"), func(RecordInfo) error { return nil })
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("record_overruns_buffer", func(t *testing.T) {
		t.Parallel()

		buf := header(Version2)
		buf = append(buf, TagSample)
		buf = binary.LittleEndian.AppendUint32(buf, 100)
		buf = append(buf, make([]byte, 10)...)

		_, err := Walk(buf, func(RecordInfo) error { return nil })
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("cut_inside_record", func(t *testing.T) {
		t.Parallel()

		buf := header(Version2)
		buf = appendRecord(buf, TagSchema, schemaPayload(1, telemetry.KindBoolean, "/ok"))

		_, err := Walk(buf[:len(buf)-3], func(RecordInfo) error { return nil })
		assert.ErrorIs(t, err, ErrTruncated)
	})
}
