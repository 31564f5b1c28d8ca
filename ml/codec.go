package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	CodecMsgpack = "msgpack"
	CodecJSON    = "json"
)

// Codec serializes model artifacts.
type Codec interface {
	Name() string
	Encode(w io.Writer, a *Artifact) error
	Decode(r io.Reader) (*Artifact, error)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return CodecMsgpack }

func (msgpackCodec) Encode(w io.Writer, a *Artifact) error {
	return msgpack.NewEncoder(w).Encode(a)
}

func (msgpackCodec) Decode(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := msgpack.NewDecoder(r).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Encode(w io.Writer, a *Artifact) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Decode also accepts the legacy format: a bare JSON array of tree nodes
// with subtree-relative child pointers.
func (jsonCodec) Decode(r io.Reader) (*Artifact, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	if payload[0] == '[' {
		var nodes []TreeNode
		if err := json.Unmarshal(payload, &nodes); err != nil {
			return nil, err
		}
		return &Artifact{
			Version:      1,
			Kind:         KindDecisionTree,
			DecisionTree: &DecisionTree{Nodes: rebaseLegacyNodes(nodes)},
		}, nil
	}
	var a Artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

var (
	MsgpackCodec Codec = msgpackCodec{}
	JSONCodec    Codec = jsonCodec{}
)

// loadOrder is primary first, fallback second.
var loadOrder = [2]Codec{MsgpackCodec, JSONCodec}

func CodecByName(name string) (Codec, error) {
	switch name {
	case CodecMsgpack, "":
		return MsgpackCodec, nil
	case CodecJSON:
		return JSONCodec, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

func WriteArtifact(w io.Writer, codec Codec, m Model) error {
	a, err := NewArtifact(m)
	if err != nil {
		return err
	}
	return codec.Encode(w, a)
}

func SaveArtifact(path string, codec Codec, m Model) error {
	var buf bytes.Buffer
	if err := WriteArtifact(&buf, codec, m); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}
