package format

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/gammacoder/ceph/internal/optracker"
)

var _ optracker.Formatter = (*YAMLFormatter)(nil)

// YAMLFormatter renders a dump as YAML, keeping sections in the order they
// were written.
type YAMLFormatter struct {
	b builder
}

// NewYAMLFormatter creates an empty YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) OpenObjectSection(name string) { f.b.open(kindObject, name) }
func (f *YAMLFormatter) OpenArraySection(name string)  { f.b.open(kindArray, name) }
func (f *YAMLFormatter) CloseSection()                 { f.b.close() }

func (f *YAMLFormatter) DumpString(name, value string) {
	f.b.leaf(&node{kind: kindString, name: name, str: value})
}

func (f *YAMLFormatter) DumpInt(name string, value int64) {
	f.b.leaf(&node{kind: kindInt, name: name, num: value})
}

// Bytes renders the document.
func (f *YAMLFormatter) Bytes() ([]byte, error) {
	root, err := f.b.document()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toYAMLNode(root)); err != nil {
		return nil, fmt.Errorf("encode yaml dump: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml dump: %w", err)
	}
	return buf.Bytes(), nil
}

// Flush writes the document to w and resets the formatter for reuse.
func (f *YAMLFormatter) Flush(w io.Writer) error {
	data, err := f.Bytes()
	if err != nil {
		return err
	}
	f.b.reset()
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write yaml dump: %w", err)
	}
	return nil
}

func toYAMLNode(n *node) *yaml.Node {
	switch n.kind {
	case kindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: n.str}
	case kindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(n.num, 10)}
	case kindArray:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, c := range n.children {
			seq.Content = append(seq.Content, toYAMLNode(c))
		}
		return seq
	default:
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, c := range n.children {
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: c.name},
				toYAMLNode(c))
		}
		return m
	}
}
