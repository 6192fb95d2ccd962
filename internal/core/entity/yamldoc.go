package entity

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// yamlDoc edits a YAML mapping document in place so fields it does not know about,
// their order and their comments survive a rewrite.
type yamlDoc struct {
	doc *yaml.Node
}

func newYAMLDoc(base []byte) *yamlDoc {
	if len(bytes.TrimSpace(base)) > 0 {
		var doc yaml.Node
		if err := yaml.Unmarshal(base, &doc); err == nil &&
			doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.MappingNode {
			return &yamlDoc{doc: &doc}
		}
	}
	return &yamlDoc{doc: &yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
	}}
}

func (d *yamlDoc) root() *yaml.Node {
	return d.doc.Content[0]
}

func (d *yamlDoc) set(value any, path ...string) error {
	var n yaml.Node
	if err := n.Encode(value); err != nil {
		return err
	}
	parent := d.root()
	for _, key := range path[:len(path)-1] {
		parent = childMapping(parent, key)
	}
	last := path[len(path)-1]
	if existing := lookupChild(parent, last); existing != nil {
		n.HeadComment, n.LineComment, n.FootComment = existing.HeadComment, existing.LineComment, existing.FootComment
		*existing = n
		return nil
	}
	parent.Content = append(parent.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: last}, &n)
	return nil
}

func (d *yamlDoc) remove(path ...string) {
	parent := d.root()
	for _, key := range path[:len(path)-1] {
		parent = lookupChild(parent, key)
		if parent == nil || parent.Kind != yaml.MappingNode {
			return
		}
	}
	last := path[len(path)-1]
	for i := 0; i+1 < len(parent.Content); i += 2 {
		if parent.Content[i].Value == last {
			parent.Content = append(parent.Content[:i], parent.Content[i+2:]...)
			return
		}
	}
}

func (d *yamlDoc) bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lookupChild(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func childMapping(parent *yaml.Node, key string) *yaml.Node {
	if existing := lookupChild(parent, key); existing != nil {
		if existing.Kind != yaml.MappingNode {
			head, line := existing.HeadComment, existing.LineComment
			*existing = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", HeadComment: head, LineComment: line}
		}
		return existing
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	parent.Content = append(parent.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
	return child
}

// patcher applies field updates to a yamlDoc: every field on a fresh document,
// only changed fields otherwise.
type patcher struct {
	doc   *yamlDoc
	fresh bool
	err   error
}

func (p *patcher) field(changed bool, value any, path ...string) {
	if p.err != nil || (!p.fresh && !changed) {
		return
	}
	p.err = p.doc.set(value, path...)
}

func (p *patcher) blob(changed bool, raw json.RawMessage, path ...string) {
	if p.err != nil || (!p.fresh && !changed) {
		return
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		p.doc.remove(path...)
		return
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		p.err = err
		return
	}
	p.err = p.doc.set(v, path...)
}

func (p *patcher) bytes() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.doc.bytes()
}
