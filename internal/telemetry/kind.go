package telemetry

// Kind identifies the value type carried by a field. The numeric values are
// part of the rtlog wire contract and must not be reordered.
type Kind uint8

// Field value kinds.
const (
	KindInvalid Kind = iota
	KindBoolean
	KindNumber
	KindString
	KindBytes
	KindRecord
)

// Valid reports whether k is one of the defined value kinds.
func (k Kind) Valid() bool {
	return k >= KindBoolean && k <= KindRecord
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindRecord:
		return "record"
	default:
		return "invalid"
	}
}
