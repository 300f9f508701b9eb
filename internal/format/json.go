package format

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"

	"github.com/gammacoder/ceph/internal/optracker"
)

var _ optracker.Formatter = (*JSONFormatter)(nil)

// JSONFormatter renders a dump as RFC 8785 canonical JSON.
//
// Canonical form:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. Strings NFC normalized
//  3. Only quote, backslash and control characters are escaped
//  4. No insignificant whitespace
//
// Duplicate keys inside one object keep the last value.
type JSONFormatter struct {
	b builder
}

// NewJSONFormatter creates an empty JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) OpenObjectSection(name string) { f.b.open(kindObject, name) }
func (f *JSONFormatter) OpenArraySection(name string)  { f.b.open(kindArray, name) }
func (f *JSONFormatter) CloseSection()                 { f.b.close() }

func (f *JSONFormatter) DumpString(name, value string) {
	f.b.leaf(&node{kind: kindString, name: name, str: value})
}

func (f *JSONFormatter) DumpInt(name string, value int64) {
	f.b.leaf(&node{kind: kindInt, name: name, num: value})
}

// Bytes renders the document.
func (f *JSONFormatter) Bytes() ([]byte, error) {
	root, err := f.b.document()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeCanonical(&buf, root)
	return buf.Bytes(), nil
}

// Flush writes the document followed by a newline to w and resets the
// formatter for reuse.
func (f *JSONFormatter) Flush(w io.Writer) error {
	data, err := f.Bytes()
	if err != nil {
		return err
	}
	f.b.reset()
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write json dump: %w", err)
	}
	return nil
}

func writeCanonical(buf *bytes.Buffer, n *node) {
	switch n.kind {
	case kindString:
		writeCanonicalString(buf, n.str)
	case kindInt:
		buf.WriteString(strconv.FormatInt(n.num, 10))
	case kindArray:
		buf.WriteByte('[')
		for i, c := range n.children {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, c)
		}
		buf.WriteByte(']')
	case kindObject:
		byKey := make(map[string]*node, len(n.children))
		keys := make([]string, 0, len(n.children))
		for _, c := range n.children {
			k := norm.NFC.String(c.name)
			if _, dup := byKey[k]; !dup {
				keys = append(keys, k)
			}
			byKey[k] = c
		}
		sortUTF16(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			writeCanonical(buf, byKey[k])
		}
		buf.WriteByte('}')
	}
}

// writeCanonicalString escapes only what RFC 8785 requires.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
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
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func sortUTF16(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, b := utf16.Encode([]rune(keys[i])), utf16.Encode([]rune(keys[j]))
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}
