package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Marshal produces the canonical encoding of v. A nil Value encodes as null.
//
// Differences from encoding/json:
//  1. Object keys are sorted by UTF-16 code units.
//  2. Strings (keys included) are NFC-normalized.
//  3. Only '"', '\\' and control characters are escaped; <, >, &, U+2028
//     and U+2029 are written literally.
//  4. -0 is written as 0; NaN and infinities are rejected.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal is Marshal for values known to be finite. It panics on error.
func MustMarshal(v Value) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encode(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		encodeString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		return encodeFloat(buf, float64(val))
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v", f)
	}
	if f == 0 {
		buf.WriteByte('0')
		return nil
	}
	// encoding/json already uses the ECMAScript cutoffs for exponent form.
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				buf.WriteString(`�`)
			} else {
				buf.WriteString(s[i : i+size])
			}
			i += size
			continue
		}
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xF])
			} else {
				buf.WriteByte(c)
			}
		}
		i++
	}
	buf.WriteByte('"')
}

// MarshalJSON implementations route every kind through the canonical encoder
// so values nested in ordinary structs serialize the same way.

func (v Null) MarshalJSON() ([]byte, error)   { return Marshal(v) }
func (v String) MarshalJSON() ([]byte, error) { return Marshal(v) }
func (v Int) MarshalJSON() ([]byte, error)    { return Marshal(v) }
func (v Float) MarshalJSON() ([]byte, error)  { return Marshal(v) }
func (v Bool) MarshalJSON() ([]byte, error)   { return Marshal(v) }
func (v Array) MarshalJSON() ([]byte, error)  { return Marshal(v) }
func (v Object) MarshalJSON() ([]byte, error) { return Marshal(v) }

// Text returns the canonical encoding, or a placeholder if v cannot be
// encoded. Intended for logs and CLI output.
func Text(v Value) string {
	b, err := Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
