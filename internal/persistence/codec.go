package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/conductor/internal/engine"
)

// Codec turns snapshots into bytes and back.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes with encoding/json. Stores use it by default.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// YAMLCodec encodes with gopkg.in/yaml.v3.
type YAMLCodec struct{}

func (YAMLCodec) Name() string { return "yaml" }

func (YAMLCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

// CodecByName returns the codec registered under name ("json" or "yaml").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "yaml", "yml":
		return YAMLCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// EncodeSnapshot serializes snap with c.
func EncodeSnapshot(c Codec, snap *engine.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("%s: encode snapshot: %w", c.Name(), engine.ErrInvalidSnapshot)
	}
	data, err := c.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("%s: encode snapshot %s: %w", c.Name(), snap.ID, err)
	}
	return data, nil
}

// DecodeSnapshot parses data produced by EncodeSnapshot.
func DecodeSnapshot(c Codec, data []byte) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := c.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%s: decode snapshot: %w", c.Name(), err)
	}
	return &snap, nil
}
