package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// DocumentKind identifies the variant held by a Document.
type DocumentKind int

const (
	KindNull DocumentKind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// ErrNotObject is returned when an object operation is applied to a
// non-object document.
var ErrNotObject = errors.New("document is not an object")

// Document is a closed variant over the JSON value space: string, number,
// bool, null, array, or object. Object keys keep their insertion order, which
// survives JSON round-trips. The zero value is the null document.
//
// Action parameters and trigger payloads are carried as Documents so the
// placeholder resolver and the action handlers operate over an explicit
// variant set instead of untyped values.
type Document struct {
	kind DocumentKind
	str  string
	num  float64
	b    bool
	arr  []Document
	keys []string
	vals map[string]Document
}

// Null returns the null document.
func Null() Document {
	return Document{}
}

// NewString returns a string document.
func NewString(s string) Document {
	return Document{kind: KindString, str: s}
}

// NewNumber returns a number document.
func NewNumber(n float64) Document {
	return Document{kind: KindNumber, num: n}
}

// NewBool returns a boolean document.
func NewBool(b bool) Document {
	return Document{kind: KindBool, b: b}
}

// NewArray returns an array document holding the given items in order.
func NewArray(items ...Document) Document {
	return Document{kind: KindArray, arr: items}
}

// NewObject returns an empty object document.
func NewObject() Document {
	return Document{kind: KindObject, vals: make(map[string]Document)}
}

// Kind reports the variant held by the document.
func (d Document) Kind() DocumentKind { return d.kind }

// IsNull reports whether the document is null.
func (d Document) IsNull() bool { return d.kind == KindNull }

// Text returns the string value. The second result is false for non-strings.
func (d Document) Text() (string, bool) {
	return d.str, d.kind == KindString
}

// Number returns the numeric value. The second result is false for
// non-numbers.
func (d Document) Number() (float64, bool) {
	return d.num, d.kind == KindNumber
}

// Bool returns the boolean value. The second result is false for
// non-booleans.
func (d Document) Bool() (bool, bool) {
	return d.b, d.kind == KindBool
}

// Items returns the array elements, or nil for non-arrays.
func (d Document) Items() []Document {
	if d.kind != KindArray {
		return nil
	}
	return d.arr
}

// Keys returns the object keys in insertion order, or nil for non-objects.
func (d Document) Keys() []string {
	if d.kind != KindObject {
		return nil
	}
	return d.keys
}

// Get returns the value stored under key in an object document.
func (d Document) Get(key string) (Document, bool) {
	if d.kind != KindObject {
		return Document{}, false
	}
	v, ok := d.vals[key]
	return v, ok
}

// GetString returns the string value stored under key, or "" when the key is
// absent or not a string.
func (d Document) GetString(key string) string {
	v, ok := d.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.Text()
	return s
}

// Len returns the number of elements for arrays and objects, zero otherwise.
func (d Document) Len() int {
	switch d.kind {
	case KindArray:
		return len(d.arr)
	case KindObject:
		return len(d.keys)
	default:
		return 0
	}
}

// Set stores a value under key in an object document, appending the key to
// the order on first insertion. It returns ErrNotObject for other kinds.
func (d *Document) Set(key string, v Document) error {
	if d.kind != KindObject {
		return ErrNotObject
	}
	if d.vals == nil {
		d.vals = make(map[string]Document)
	}
	if _, exists := d.vals[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.vals[key] = v
	return nil
}

// MarshalJSON renders the document as JSON, preserving object key order.
func (d Document) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(d.str)
	case KindNumber:
		return []byte(formatNumber(d.num)), nil
	case KindBool:
		return []byte(strconv.FormatBool(d.b)), nil
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range d.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, key := range d.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyData, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			buf.Write(keyData)
			buf.WriteByte(':')
			data, err := d.vals[key].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown document kind %d", d.kind)
}

// UnmarshalJSON parses JSON into the document, recording object key order.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	doc, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// ParseDocument parses a JSON payload into a Document.
func ParseDocument(data []byte) (Document, error) {
	var d Document
	if err := d.UnmarshalJSON(data); err != nil {
		return Document{}, err
	}
	return d, nil
}

// String renders the document as compact JSON.
func (d Document) String() string {
	data, err := d.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(data)
}

// FromAny converts a plain Go value into a Document. Map keys are sorted so
// conversion is deterministic; use NewObject and Set when order matters.
func FromAny(v interface{}) Document {
	switch t := v.(type) {
	case nil:
		return Null()
	case Document:
		return t
	case string:
		return NewString(t)
	case bool:
		return NewBool(t)
	case float64:
		return NewNumber(t)
	case float32:
		return NewNumber(float64(t))
	case int:
		return NewNumber(float64(t))
	case int64:
		return NewNumber(float64(t))
	case uint64:
		return NewNumber(float64(t))
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return NewString(t.String())
		}
		return NewNumber(n)
	case []interface{}:
		items := make([]Document, 0, len(t))
		for _, item := range t {
			items = append(items, FromAny(item))
		}
		return NewArray(items...)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			_ = obj.Set(k, FromAny(t[k]))
		}
		return obj
	default:
		return NewString(fmt.Sprintf("%v", t))
	}
}

// ToAny converts the document into plain Go values (map/slice/scalars).
// Object key order is lost; intended for expression environments and
// provider payloads.
func (d Document) ToAny() interface{} {
	switch d.kind {
	case KindString:
		return d.str
	case KindNumber:
		return d.num
	case KindBool:
		return d.b
	case KindArray:
		items := make([]interface{}, 0, len(d.arr))
		for _, item := range d.arr {
			items = append(items, item.ToAny())
		}
		return items
	case KindObject:
		m := make(map[string]interface{}, len(d.keys))
		for _, k := range d.keys {
			m[k] = d.vals[k].ToAny()
		}
		return m
	default:
		return nil
	}
}

// Scalar renders scalar documents as the string a template substitution
// should produce. Arrays and objects render as compact JSON.
func (d Document) Scalar() string {
	switch d.kind {
	case KindString:
		return d.str
	case KindNumber:
		return formatNumber(d.num)
	case KindBool:
		return strconv.FormatBool(d.b)
	case KindNull:
		return ""
	default:
		return d.String()
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func decodeValue(dec *json.Decoder) (Document, error) {
	tok, err := dec.Token()
	if err != nil {
		return Document{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Document{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Document{}, fmt.Errorf("unexpected object key token %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Document{}, err
				}
				if err := obj.Set(key, val); err != nil {
					return Document{}, err
				}
			}
			if _, err := dec.Token(); err != nil { // closing brace
				return Document{}, err
			}
			return obj, nil
		case '[':
			var items []Document
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Document{}, err
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil { // closing bracket
				return Document{}, err
			}
			return NewArray(items...), nil
		}
		return Document{}, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return NewString(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Document{}, err
		}
		return NewNumber(n), nil
	case bool:
		return NewBool(t), nil
	case nil:
		return Null(), nil
	}
	return Document{}, fmt.Errorf("unexpected token %v", tok)
}
