package payload

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Format is a payload encoding.
type Format string

// Supported formats.
const (
	JSON    Format = "json"
	YAML    Format = "yaml"
	Msgpack Format = "msgpack"
)

// FormatOf returns the format of a file by its extension. Unknown
// extensions are read as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	case ".msgpack", ".mp":
		return Msgpack
	}
	return JSON
}

// Decode decodes a single payload node.
func Decode(f Format, b []byte) (Node, error) {
	v, err := decode(f, b)
	if err != nil {
		return nil, err
	}
	return From(v)
}

// DecodeAll decodes a document holding either one node or a list of nodes.
func DecodeAll(f Format, b []byte) ([]Node, error) {
	v, err := decode(f, b)
	if err != nil {
		return nil, err
	}
	nv, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	switch nv := nv.(type) {
	case Node:
		return []Node{nv}, nil
	case []Node:
		return nv, nil
	}
	return nil, fmt.Errorf("payload: expected an object or a list of objects, got %T", v)
}

func decode(f Format, b []byte) (any, error) {
	var v any
	switch f {
	case JSON:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("payload: decoding json: %w", err)
		}
	case YAML:
		if err := yaml.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("payload: decoding yaml: %w", err)
		}
	case Msgpack:
		if err := msgpack.Unmarshal(b, &v); err != nil {
			return nil, fmt.Errorf("payload: decoding msgpack: %w", err)
		}
	default:
		return nil, fmt.Errorf("payload: unknown format %q", f)
	}
	return v, nil
}

// Encode encodes a payload node. JSON output is indented.
func Encode(f Format, n Node) ([]byte, error) {
	switch f {
	case JSON:
		return json.MarshalIndent(n, "", "  ")
	case YAML:
		return yaml.Marshal(n)
	case Msgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(n); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("payload: unknown format %q", f)
}
