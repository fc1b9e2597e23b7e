// Package protocol implements the versioned YAML request/response/
// exception codec (spec.md §4.5, §6). Decoding preserves list order;
// fields absent from a document are simply left zero-valued and are
// never re-emitted on encode, since every type here only carries fields
// the schema defines.
package protocol

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrUnknownSchemaVersion is returned when a document's tag isn't one
// this codec understands.
var ErrUnknownSchemaVersion = fmt.Errorf("protocol: unknown schema version")

const (
	tagV1     = "!V1"
	tagV2     = "!V2"
	tagData   = "!Data"
	tagNoData = "!NoData"
)

// rawRequest mirrors Request's shape for the mapping node beneath the
// !V1 tag.
type rawRequest struct {
	Info   Info        `yaml:"info"`
	Input  []yaml.Node `yaml:"input"`
	Output []Table     `yaml:"output"`
}

// ParseRequest decodes a !V1 request document.
func ParseRequest(data []byte) (*Request, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("protocol: parse request yaml: %w", err)
	}
	doc, err := documentNode(&root)
	if err != nil {
		return nil, err
	}
	if doc.Tag != tagV1 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchemaVersion, doc.Tag)
	}

	var raw rawRequest
	if err := doc.Decode(&raw); err != nil {
		return nil, fmt.Errorf("protocol: decode request: %w", err)
	}

	req := &Request{Info: raw.Info, Output: raw.Output}
	req.Input = make([]InputSlot, len(raw.Input))
	for i, node := range raw.Input {
		slot, err := decodeInputSlot(&node)
		if err != nil {
			return nil, fmt.Errorf("protocol: input[%d]: %w", i, err)
		}
		req.Input[i] = slot
	}
	return req, nil
}

func decodeInputSlot(node *yaml.Node) (InputSlot, error) {
	n := node
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		n = n.Content[0]
	}
	if hasKey(n, "list_of_table_objects") {
		var tv TableVersions
		if err := n.Decode(&tv); err != nil {
			return InputSlot{}, err
		}
		return InputSlot{Kind: InputSlotVersions, Versions: tv}, nil
	}
	var t Table
	if err := n.Decode(&t); err != nil {
		return InputSlot{}, err
	}
	return InputSlot{Kind: InputSlotTable, Table: t}, nil
}

func hasKey(n *yaml.Node, key string) bool {
	if n.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}

func documentNode(root *yaml.Node) (*yaml.Node, error) {
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) != 1 {
			return nil, fmt.Errorf("protocol: empty document")
		}
		return root.Content[0], nil
	}
	return root, nil
}

// ParseResponse decodes a !V2 response document.
func ParseResponse(data []byte) (*Response, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("protocol: parse response yaml: %w", err)
	}
	doc, err := documentNode(&root)
	if err != nil {
		return nil, err
	}
	if doc.Tag != tagV2 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchemaVersion, doc.Tag)
	}

	var raw struct {
		Output []yaml.Node `yaml:"output"`
	}
	if err := doc.Decode(&raw); err != nil {
		return nil, fmt.Errorf("protocol: decode response: %w", err)
	}

	resp := &Response{Output: make([]OutputItem, len(raw.Output))}
	for i, node := range raw.Output {
		item, err := decodeOutputItem(&node)
		if err != nil {
			return nil, fmt.Errorf("protocol: output[%d]: %w", i, err)
		}
		resp.Output[i] = item
	}
	return resp, nil
}

func decodeOutputItem(node *yaml.Node) (OutputItem, error) {
	var wrapper struct {
		Table Table `yaml:"table"`
	}
	if err := node.Decode(&wrapper); err != nil {
		return OutputItem{}, err
	}
	switch node.Tag {
	case tagData:
		return OutputItem{Kind: OutputData, Table: wrapper.Table}, nil
	case tagNoData:
		return OutputItem{Kind: OutputNoData, Table: wrapper.Table}, nil
	default:
		return OutputItem{}, fmt.Errorf("%w: %q", ErrUnknownSchemaVersion, node.Tag)
	}
}

// EncodeResponse renders a Response as a !V2 document.
func EncodeResponse(resp *Response) ([]byte, error) {
	items := make([]yaml.Node, len(resp.Output))
	for i, item := range resp.Output {
		var n yaml.Node
		if err := n.Encode(struct {
			Table Table `yaml:"table"`
		}{Table: item.Table}); err != nil {
			return nil, err
		}
		switch item.Kind {
		case OutputData:
			n.Tag = tagData
		case OutputNoData:
			n.Tag = tagNoData
		}
		items[i] = n
	}

	var body yaml.Node
	if err := body.Encode(struct {
		Output []yaml.Node `yaml:"output"`
	}{Output: items}); err != nil {
		return nil, err
	}
	body.Tag = tagV2

	return yaml.Marshal(&body)
}

// EncodeException renders an Exception as a !V1 document, truncating
// field lengths per spec.md §3.
func EncodeException(exc *Exception) ([]byte, error) {
	clone := *exc
	clone.Truncate()

	var node yaml.Node
	if err := node.Encode(clone); err != nil {
		return nil, err
	}
	node.Tag = tagV1
	return yaml.Marshal(&node)
}

// ResponseFileName is the fixed filename the codec writes successful
// responses to, per spec.md §4.5.
const ResponseFileName = "response.yaml"

// ExceptionFileName is the fixed filename written on failure.
const ExceptionFileName = "exception.yaml"

// WriteResponse writes resp to <folder>/response.yaml. It writes to a
// temp file first and renames into place, so a reader that sees the
// final name can assume the write is complete (spec.md: "presence-
// without-rename is incomplete").
func WriteResponse(folder string, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("protocol: encode response: %w", err)
	}
	return atomicWrite(filepath.Join(folder, ResponseFileName), data)
}

// WriteException writes exc to <folder>/exception.yaml. Unlike the
// response file, this is the terminal artifact of a failed run and is
// written directly: there is nothing racing a reader to see a complete
// file, because a present exception.yaml with no response.yaml is itself
// the failure signal.
func WriteException(folder string, exc *Exception) error {
	data, err := EncodeException(exc)
	if err != nil {
		return fmt.Errorf("protocol: encode exception: %w", err)
	}
	return os.WriteFile(filepath.Join(folder, ExceptionFileName), data, 0o644)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("protocol: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("protocol: rename into place: %w", err)
	}
	return nil
}
