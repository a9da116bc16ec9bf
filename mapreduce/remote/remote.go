// Package remote runs plan chunks on worker nodes.
package remote

import (
	"context"
	"errors"
	"fmt"

	"wordflow/mapreduce/functions"
	"wordflow/mapreduce/plan"
	"wordflow/mapreduce/types"
	"wordflow/mapreduce/wire"
	"wordflow/rpc/client"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var errNotWordCount = errors.New("workers only run the built-in word count")

// Executor sends chunks to one worker node over a single connection.
type Executor struct {
	address string
	cli     *client.Client
	mode    functions.Mode
}

// Dial connects to the worker at address.
func Dial(address string, mode functions.Mode) (*Executor, error) {
	cli, err := client.Dial(address)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", address, err)
	}
	return NewExecutor(address, cli, mode), nil
}

// NewExecutor wraps an existing client.
func NewExecutor(address string, cli *client.Client, mode functions.Mode) *Executor {
	return &Executor{address: address, cli: cli, mode: mode}
}

func (e *Executor) Name() string {
	return e.address
}

// CheckPlan accepts only plans built by plan.WordCount in the executor's
// mode, since the worker runs its own copy of those steps.
func (e *Executor) CheckPlan(p *plan.Plan) error {
	mode, ok := p.WordCountMode()
	if !ok {
		return errNotWordCount
	}
	if mode != e.mode {
		return fmt.Errorf("plan splits words in %s mode, executor in %s mode", mode, e.mode)
	}
	return nil
}

// Process counts lines on the worker. The request itself cannot be
// interrupted; ctx is only checked before sending.
func (e *Executor) Process(ctx context.Context, lines []string) (*types.Partial, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := e.cli.SendRequest(wire.EncodeChunk(wire.ChunkRequest{Lines: lines, Mode: e.mode}))
	if err != nil {
		return nil, err
	}
	msg, ok := resp.(*structpb.Struct)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T from %s", resp, e.address)
	}
	return wire.DecodePartial(msg)
}

// Info asks the worker for its counters.
func (e *Executor) Info() (wire.NodeInfo, error) {
	resp, err := e.cli.SendRequest(&emptypb.Empty{})
	if err != nil {
		return wire.NodeInfo{}, err
	}
	msg, ok := resp.(*structpb.Struct)
	if !ok {
		return wire.NodeInfo{}, fmt.Errorf("unexpected response %T from %s", resp, e.address)
	}
	return wire.DecodeNodeInfo(msg)
}

// Close closes the connection.
func (e *Executor) Close() error {
	return e.cli.Close()
}
