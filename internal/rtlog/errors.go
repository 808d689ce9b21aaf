package rtlog

import "errors"

// Decode failure kinds. Decode wraps these with offset and record context;
// match with errors.Is.
var (
	// ErrFormat reports malformed content: bad magic bytes, invalid record
	// payloads, duplicate field definitions, samples for unknown fields,
	// timestamp regressions, or corrupt compressed blocks.
	ErrFormat = errors.New("malformed rtlog data")

	// ErrTruncated reports a buffer that ends before a record's declared
	// end, including buffers shorter than the file header.
	ErrTruncated = errors.New("truncated rtlog data")

	// ErrUnsupportedVersion reports a header version this decoder does not
	// understand.
	ErrUnsupportedVersion = errors.New("unsupported rtlog version")

	// ErrChecksum reports an integrity record whose digest does not match
	// the preceding bytes.
	ErrChecksum = errors.New("rtlog integrity digest mismatch")
)
