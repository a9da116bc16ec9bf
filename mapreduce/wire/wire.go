// Package wire converts chunks and partial results to and from the protobuf
// messages exchanged with worker nodes.
//
// Counts travel as protobuf numbers (float64). Values above 2^53 lose
// precision and are rejected when decoding.
package wire

import (
	"errors"
	"fmt"
	"math"

	"wordflow/mapreduce/functions"
	"wordflow/mapreduce/types"

	"google.golang.org/protobuf/types/known/structpb"
)

const maxExactCount = 1 << 53

var (
	errMissingField = errors.New("missing field")
	errBadCount     = errors.New("count is not a non-negative integer")
)

// ChunkRequest asks a worker to count one chunk of lines.
type ChunkRequest struct {
	Lines []string
	Mode  functions.Mode
}

// NodeInfo describes a worker node.
type NodeInfo struct {
	ID     string
	Chunks int64
	Pairs  int64
}

// EncodeChunk builds the request message for a chunk.
func EncodeChunk(req ChunkRequest) *structpb.Struct {
	lines := make([]*structpb.Value, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, structpb.NewStringValue(line))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"lines":   structpb.NewListValue(&structpb.ListValue{Values: lines}),
		"unicode": structpb.NewBoolValue(req.Mode == functions.Unicode),
	}}
}

// DecodeChunk parses a request built by EncodeChunk.
func DecodeChunk(msg *structpb.Struct) (ChunkRequest, error) {
	var req ChunkRequest
	lines, ok := msg.GetFields()["lines"]
	if !ok {
		return req, fmt.Errorf("chunk request: %w: lines", errMissingField)
	}
	list := lines.GetListValue()
	if list == nil {
		return req, fmt.Errorf("chunk request: lines is not a list")
	}
	req.Lines = make([]string, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return req, fmt.Errorf("chunk request: line %d is not a string", i)
		}
		req.Lines = append(req.Lines, s.StringValue)
	}
	if msg.GetFields()["unicode"].GetBoolValue() {
		req.Mode = functions.Unicode
	}
	return req, nil
}

// EncodePartial builds the response message for a partial result.
func EncodePartial(p *types.Partial) *structpb.Struct {
	counts := make(map[string]*structpb.Value, len(p.Counts))
	for k, v := range p.Counts {
		counts[k] = structpb.NewNumberValue(float64(v))
	}
	emitted := make([]*structpb.Value, 0, len(p.Emitted))
	for _, n := range p.Emitted {
		emitted = append(emitted, structpb.NewNumberValue(float64(n)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"counts":  structpb.NewStructValue(&structpb.Struct{Fields: counts}),
		"emitted": structpb.NewListValue(&structpb.ListValue{Values: emitted}),
	}}
}

// DecodePartial parses a response built by EncodePartial.
func DecodePartial(msg *structpb.Struct) (*types.Partial, error) {
	countsValue, ok := msg.GetFields()["counts"]
	if !ok {
		return nil, fmt.Errorf("partial: %w: counts", errMissingField)
	}
	counts := countsValue.GetStructValue()
	if counts == nil {
		return nil, fmt.Errorf("partial: counts is not an object")
	}
	p := &types.Partial{Counts: make(types.ResultSet, len(counts.GetFields()))}
	for k, v := range counts.GetFields() {
		n, err := toCount(v)
		if err != nil {
			return nil, fmt.Errorf("partial: key %q: %w", k, err)
		}
		p.Counts[k] = n
	}
	for i, v := range msg.GetFields()["emitted"].GetListValue().GetValues() {
		n, err := toCount(v)
		if err != nil {
			return nil, fmt.Errorf("partial: emitted[%d]: %w", i, err)
		}
		p.Emitted = append(p.Emitted, n)
	}
	return p, nil
}

// EncodeNodeInfo builds the response to an info request.
func EncodeNodeInfo(info NodeInfo) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":     structpb.NewStringValue(info.ID),
		"chunks": structpb.NewNumberValue(float64(info.Chunks)),
		"pairs":  structpb.NewNumberValue(float64(info.Pairs)),
	}}
}

// DecodeNodeInfo parses a response built by EncodeNodeInfo.
func DecodeNodeInfo(msg *structpb.Struct) (NodeInfo, error) {
	fields := msg.GetFields()
	id, ok := fields["id"]
	if !ok {
		return NodeInfo{}, fmt.Errorf("node info: %w: id", errMissingField)
	}
	chunks, err := toCount(fields["chunks"])
	if err != nil {
		return NodeInfo{}, fmt.Errorf("node info: chunks: %w", err)
	}
	pairs, err := toCount(fields["pairs"])
	if err != nil {
		return NodeInfo{}, fmt.Errorf("node info: pairs: %w", err)
	}
	return NodeInfo{ID: id.GetStringValue(), Chunks: chunks, Pairs: pairs}, nil
}

func toCount(v *structpb.Value) (int64, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errBadCount
	}
	f := n.NumberValue
	if f < 0 || f > maxExactCount || f != math.Trunc(f) {
		return 0, errBadCount
	}
	return int64(f), nil
}
