// Package worker serves chunk counting requests for remote executors.
package worker

import (
	"context"
	"sync/atomic"

	"wordflow/mapreduce/functions"
	"wordflow/mapreduce/plan"
	"wordflow/mapreduce/wire"
	"wordflow/rpc/server"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Worker runs the standard word-count steps over chunks it receives.
type Worker struct {
	id     string
	logger *log.Logger
	plans  map[functions.Mode]*plan.Plan

	chunks atomic.Int64
	pairs  atomic.Int64
}

// New creates a worker identified by id, usually its listen address.
func New(id string, logger *log.Logger) *Worker {
	return &Worker{
		id:     id,
		logger: logger,
		plans: map[functions.Mode]*plan.Plan{
			functions.ASCII:   plan.WordCount("worker", "", functions.ASCII),
			functions.Unicode: plan.WordCount("worker", "", functions.Unicode),
		},
	}
}

// Register installs the worker's handlers on s.
func (w *Worker) Register(s *server.Server) {
	s.RegisterByMessage(&structpb.Struct{}, w.countRequest)
	s.RegisterByMessage(&emptypb.Empty{}, w.infoRequest)
}

// countRequest handles a chunk from a remote executor
func (w *Worker) countRequest(ctx server.Context, req proto.Message) (proto.Message, error) {
	chunk, err := wire.DecodeChunk(req.(*structpb.Struct))
	if err != nil {
		return nil, err
	}
	part, err := w.plans[chunk.Mode].Process(context.Background(), chunk.Lines)
	if err != nil {
		return nil, err
	}
	w.chunks.Add(1)
	w.pairs.Add(part.Counts.Total())
	w.logger.WithFields(log.Fields{
		"from":     ctx.Address,
		"lines":    len(chunk.Lines),
		"distinct": len(part.Counts),
		"mode":     chunk.Mode,
	}).Debugf("[worker %s] chunk counted", w.id)
	return wire.EncodePartial(part), nil
}

// infoRequest reports the worker's counters
func (w *Worker) infoRequest(ctx server.Context, req proto.Message) (proto.Message, error) {
	return wire.EncodeNodeInfo(w.Info()), nil
}

// Info returns the worker's counters.
func (w *Worker) Info() wire.NodeInfo {
	return wire.NodeInfo{
		ID:     w.id,
		Chunks: w.chunks.Load(),
		Pairs:  w.pairs.Load(),
	}
}
