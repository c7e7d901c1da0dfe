package rowkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnsupportedType is returned by Encode for values outside the closed set
// of row key types.
var ErrUnsupportedType = errors.New("unsupported row key type")

// Type names the encoding used for a Key. It is mostly useful for logging and
// for the CLI, which has to be told how to interpret a key typed on the
// command line.
type Type string

const (
	TypeString  Type = "string"
	TypeInt64   Type = "long"
	TypeFloat64 Type = "double"
	TypeInt32   Type = "int"
)

// Key is an encoded row key. Build one with the From* functions or Encode.
type Key []byte

// FromString encodes s as UTF-8, which is what HBase does for strings.
func FromString(s string) Key {
	return Key(s)
}

// FromInt64 encodes v as 8 big-endian bytes.
func FromInt64(v int64) Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// FromInt32 encodes v as 4 big-endian bytes.
func FromInt32(v int32) Key {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

// FromFloat64 encodes the raw IEEE 754 bits of v as 8 big-endian bytes. NaN
// payloads are preserved rather than canonicalized, matching
// Double.doubleToRawLongBits.
func FromFloat64(v float64) Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

// Encode picks the encoding for v from its dynamic type. Only string, int64,
// float64, int32 and an already encoded Key are accepted.
func Encode(v interface{}) (Key, error) {
	switch k := v.(type) {
	case string:
		return FromString(k), nil
	case int64:
		return FromInt64(k), nil
	case float64:
		return FromFloat64(k), nil
	case int32:
		return FromInt32(k), nil
	case Key:
		return k, nil
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrUnsupportedType)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// Parse interprets the text s as a value of type t and encodes it. The CLI
// uses this to accept typed keys.
func Parse(t Type, s string) (Key, error) {
	switch t {
	case TypeString, "":
		return FromString(s), nil
	case TypeInt64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse %q as a long: %v", s, err)
		}
		return FromInt64(v), nil
	case TypeInt32:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("can't parse %q as an int: %v", s, err)
		}
		return FromInt32(int32(v)), nil
	case TypeFloat64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse %q as a double: %v", s, err)
		}
		return FromFloat64(v), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, string(t))
	}
}

// ToInt64 decodes a key written by FromInt64.
func ToInt64(k []byte) (int64, error) {
	if len(k) != 8 {
		return 0, fmt.Errorf("a long row key must be 8 bytes, got %v", len(k))
	}
	return int64(binary.BigEndian.Uint64(k)), nil
}

// ToInt32 decodes a key written by FromInt32.
func ToInt32(k []byte) (int32, error) {
	if len(k) != 4 {
		return 0, fmt.Errorf("an int row key must be 4 bytes, got %v", len(k))
	}
	return int32(binary.BigEndian.Uint32(k)), nil
}

// ToFloat64 decodes a key written by FromFloat64.
func ToFloat64(k []byte) (float64, error) {
	if len(k) != 8 {
		return 0, fmt.Errorf("a double row key must be 8 bytes, got %v", len(k))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(k)), nil
}

// Format renders k for display according to t. Keys that fail to decode are
// shown as quoted bytes.
func Format(t Type, k []byte) string {
	switch t {
	case TypeString, "":
		return string(k)
	case TypeInt64:
		if v, err := ToInt64(k); err == nil {
			return strconv.FormatInt(v, 10)
		}
	case TypeInt32:
		if v, err := ToInt32(k); err == nil {
			return strconv.FormatInt(int64(v), 10)
		}
	case TypeFloat64:
		if v, err := ToFloat64(k); err == nil {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return fmt.Sprintf("%q", k)
}
