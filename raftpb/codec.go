package raftpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc in place of the default "proto" codec,
// since these messages are not generated by protoc-gen-go.
const codecName = "raftwire"

type wireMessage interface {
	Marshal() []byte
	Unmarshal([]byte) error
}

type codec struct{}

func (codec) Name() string { return codecName }

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("raftpb: %T does not implement wireMessage", v)
	}
	return m.Marshal(), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("raftpb: %T does not implement wireMessage", v)
	}
	return m.Unmarshal(data)
}

func init() {
	encoding.RegisterCodec(codec{})
}

// CodecName is the name callers must set via grpc.CallContentSubtype /
// grpc.ForceCodec when dialing or serving this package's RPCs.
const CodecName = codecName
