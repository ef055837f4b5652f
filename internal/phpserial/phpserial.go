// Package phpserial implements the PHP serialize() wire format for the value
// shapes that occur in content metadata: null, bool, int, float, string and
// (nested) arrays. Objects are not supported; values carrying object tokens
// are reported so callers can skip them.
//
// Associative arrays decode into the ordered Array type rather than a Go map
// so that re-encoding a decoded value is deterministic and byte-stable.
package phpserial

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrUnsupportedObject is returned when a value contains a serialized PHP
// object or class reference.
var ErrUnsupportedObject = errors.New("phpserial: serialized objects are not supported")

// Entry is one key/value pair of an Array. Keys are int64 or string.
type Entry struct {
	Key   any
	Value any
}

// Array is an ordered PHP array. Insertion order is preserved across a
// decode/encode round trip.
type Array []Entry

// Get returns the value for a string key, or nil when absent.
func (a Array) Get(key string) any {
	for _, e := range a {
		if k, ok := e.Key.(string); ok && k == key {
			return e.Value
		}
	}
	return nil
}

// IsSerialized reports whether s looks like a PHP-serialized value. This is
// the host's own heuristic: a type tag followed by a colon, or the null
// literal, terminated by a semicolon or brace.
func IsSerialized(s string) bool {
	s = strings.TrimSpace(s)
	if s == "N;" {
		return true
	}
	if len(s) < 4 {
		return false
	}
	if s[1] != ':' {
		return false
	}
	switch s[0] {
	case 'a', 'O', 'C':
		return s[len(s)-1] == '}'
	case 's':
		return strings.HasSuffix(s, `";`)
	case 'b', 'i', 'd':
		return s[len(s)-1] == ';'
	}
	return false
}

// Unserialize decodes a PHP-serialized value.
func Unserialize(s string) (any, error) {
	d := &decoder{src: s}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.src) {
		return nil, fmt.Errorf("phpserial: trailing data at offset %d", d.pos)
	}
	return v, nil
}

// Serialize encodes a value into the PHP wire format. Maps are encoded with
// sorted keys so the output is deterministic; decoded Array values keep
// their original order.
func Serialize(v any) (string, error) {
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

type decoder struct {
	src string
	pos int
}

func (d *decoder) value() (any, error) {
	if d.pos >= len(d.src) {
		return nil, fmt.Errorf("phpserial: unexpected end of input at offset %d", d.pos)
	}
	switch d.src[d.pos] {
	case 'N':
		if err := d.expect("N;"); err != nil {
			return nil, err
		}
		return nil, nil
	case 'b':
		if err := d.expect("b:"); err != nil {
			return nil, err
		}
		c, err := d.readUntil(';')
		if err != nil {
			return nil, err
		}
		return c == "1", nil
	case 'i':
		if err := d.expect("i:"); err != nil {
			return nil, err
		}
		c, err := d.readUntil(';')
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("phpserial: bad integer %q: %w", c, err)
		}
		return n, nil
	case 'd':
		if err := d.expect("d:"); err != nil {
			return nil, err
		}
		c, err := d.readUntil(';')
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, fmt.Errorf("phpserial: bad float %q: %w", c, err)
		}
		return f, nil
	case 's':
		return d.stringValue()
	case 'a':
		return d.arrayValue()
	case 'O', 'C':
		return nil, ErrUnsupportedObject
	}
	return nil, fmt.Errorf("phpserial: unknown type tag %q at offset %d", d.src[d.pos], d.pos)
}

func (d *decoder) stringValue() (string, error) {
	if err := d.expect("s:"); err != nil {
		return "", err
	}
	lenStr, err := d.readUntil(':')
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(lenStr)
	if err != nil || n < 0 {
		return "", fmt.Errorf("phpserial: bad string length %q", lenStr)
	}
	if err := d.expect(`"`); err != nil {
		return "", err
	}
	if d.pos+n > len(d.src) {
		return "", fmt.Errorf("phpserial: string length %d exceeds input", n)
	}
	s := d.src[d.pos : d.pos+n]
	d.pos += n
	if err := d.expect(`";`); err != nil {
		return "", err
	}
	return s, nil
}

func (d *decoder) arrayValue() (Array, error) {
	if err := d.expect("a:"); err != nil {
		return nil, err
	}
	countStr, err := d.readUntil(':')
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("phpserial: bad array length %q", countStr)
	}
	if err := d.expect("{"); err != nil {
		return nil, err
	}
	arr := make(Array, 0, count)
	for i := 0; i < count; i++ {
		key, err := d.value()
		if err != nil {
			return nil, err
		}
		switch key.(type) {
		case int64, string:
		default:
			return nil, fmt.Errorf("phpserial: invalid array key type %T", key)
		}
		val, err := d.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, Entry{Key: key, Value: val})
	}
	if err := d.expect("}"); err != nil {
		return nil, err
	}
	return arr, nil
}

func (d *decoder) expect(lit string) error {
	if !strings.HasPrefix(d.src[d.pos:], lit) {
		return fmt.Errorf("phpserial: expected %q at offset %d", lit, d.pos)
	}
	d.pos += len(lit)
	return nil
}

func (d *decoder) readUntil(delim byte) (string, error) {
	idx := strings.IndexByte(d.src[d.pos:], delim)
	if idx < 0 {
		return "", fmt.Errorf("phpserial: missing %q after offset %d", delim, d.pos)
	}
	s := d.src[d.pos : d.pos+idx]
	d.pos += idx + 1
	return s, nil
}

func encode(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("N;")
	case bool:
		if t {
			b.WriteString("b:1;")
		} else {
			b.WriteString("b:0;")
		}
	case int:
		return encode(b, int64(t))
	case int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(t, 10))
		b.WriteString(";")
	case float64:
		b.WriteString("d:")
		b.WriteString(strconv.FormatFloat(t, 'G', -1, 64))
		b.WriteString(";")
	case string:
		b.WriteString("s:")
		b.WriteString(strconv.Itoa(len(t)))
		b.WriteString(`:"`)
		b.WriteString(t)
		b.WriteString(`";`)
	case Array:
		b.WriteString("a:")
		b.WriteString(strconv.Itoa(len(t)))
		b.WriteString(":{")
		for _, e := range t {
			if err := encode(b, e.Key); err != nil {
				return err
			}
			if err := encode(b, e.Value); err != nil {
				return err
			}
		}
		b.WriteString("}")
	case []any:
		arr := make(Array, len(t))
		for i, item := range t {
			arr[i] = Entry{Key: int64(i), Value: item}
		}
		return encode(b, arr)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		arr := make(Array, 0, len(t))
		for _, k := range keys {
			arr = append(arr, Entry{Key: k, Value: t[k]})
		}
		return encode(b, arr)
	default:
		return fmt.Errorf("phpserial: cannot serialize %T", v)
	}
	return nil
}
