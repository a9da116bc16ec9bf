package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wordflow/mapreduce/source"
	"wordflow/mapreduce/taskmgr"
	"wordflow/mapreduce/types"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	errStatsMismatch = errors.New("operator count mismatch")
	errNoPartial     = errors.New("executor returned no result")
)

// Executor turns a chunk of lines into a partial result.
type Executor interface {
	Name() string
	Process(ctx context.Context, lines []string) (*types.Partial, error)
}

// PlanChecker is implemented by executors that run their own fixed steps
// instead of the plan's functions. Execute refuses to start when CheckPlan
// fails for any executor.
type PlanChecker interface {
	CheckPlan(p *Plan) error
}

func checkExecutors(p *Plan, executors []Executor) error {
	for _, e := range executors {
		checker, ok := e.(PlanChecker)
		if !ok {
			continue
		}
		if err := checker.CheckPlan(p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrIncompatibleExecutor, e.Name(), err)
		}
	}
	return nil
}

// OperatorStats counts the records entering and leaving one step.
type OperatorStats struct {
	Name string
	In   int64
	Out  int64
}

// Result is the outcome of one Execute call.
type Result struct {
	JobID   string
	JobName string
	Counts  types.ResultSet
	Stats   []OperatorStats
	Lines   int64
	Elapsed time.Duration
}

// Collect executes the plan and returns only the counts.
func (p *Plan) Collect(ctx context.Context) (types.ResultSet, error) {
	res, err := p.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return res.Counts, nil
}

// Execute reads the whole source and returns the reduced counts. Nothing is
// returned until every line has been consumed.
func (p *Plan) Execute(ctx context.Context) (*Result, error) {
	if err := p.validate(true); err != nil {
		return nil, err
	}
	if err := checkExecutors(p, p.executors); err != nil {
		return nil, err
	}
	res := &Result{
		JobID:   uuid.New().String(),
		JobName: p.jobName,
	}
	entry := p.logger.WithFields(log.Fields{"job": p.jobName, "id": res.JobID})
	start := time.Now()

	executors := p.executors
	if len(executors) == 0 && p.parallelism > 1 {
		executors = p.localExecutors(p.parallelism)
	}
	entry.WithFields(log.Fields{
		"input":     p.path,
		"executors": len(executors),
		"steps":     p.Names(),
	}).Info("[plan] job started")

	var (
		acc *accumulator
		err error
	)
	if len(executors) == 0 {
		acc, err = p.runSequential(ctx)
	} else {
		acc, err = p.runChunked(ctx, executors, entry)
	}
	if err != nil {
		entry.WithError(err).Error("[plan] job failed")
		return nil, err
	}

	res.Counts = acc.counts
	res.Lines = acc.lines
	res.Stats = p.stats(acc)
	res.Elapsed = time.Since(start)
	entry.WithFields(log.Fields{
		"lines":    res.Lines,
		"distinct": len(res.Counts),
		"elapsed":  res.Elapsed,
	}).Info("[plan] job finished")
	return res, nil
}

// Process runs every step after the source over an in-memory chunk.
func (p *Plan) Process(ctx context.Context, lines []string) (*types.Partial, error) {
	if err := p.validate(false); err != nil {
		return nil, err
	}
	acc := p.newAccumulator()
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.push(acc, line, 0)
	}
	return &types.Partial{Counts: acc.counts, Emitted: acc.emitted}, nil
}

type accumulator struct {
	lines   int64
	emitted []int64
	counts  types.ResultSet
}

func (p *Plan) newAccumulator() *accumulator {
	return &accumulator{
		emitted: make([]int64, len(p.ops)+1),
		counts:  types.NewResultSet(),
	}
}

func (acc *accumulator) merge(part *types.Partial, combine types.Combiner) {
	acc.counts.MergeWith(part.Counts, combine)
	for i, n := range part.Emitted {
		acc.emitted[i] += n
	}
}

// push sends rec through the step at index i and everything after it.
func (p *Plan) push(acc *accumulator, rec string, i int) {
	if i == len(p.ops) {
		acc.emitted[i]++
		acc.counts.AddWith(p.toPair(rec), p.combine)
		return
	}
	op := &p.ops[i]
	switch op.kind {
	case filterOp:
		if op.filter(rec) {
			acc.emitted[i]++
			p.push(acc, rec, i+1)
		}
	case flatMapOp:
		op.flatMap(rec, func(out string) {
			acc.emitted[i]++
			p.push(acc, out, i+1)
		})
	}
}

func (p *Plan) runSequential(ctx context.Context) (*accumulator, error) {
	acc := p.newAccumulator()
	err := source.ReadLines(ctx, p.path, func(line string) error {
		acc.lines++
		p.push(acc, line, 0)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

type chunkTask struct {
	seq   int
	lines []string
	// index of the first executor the chunk was given to
	first int
	tried int
	errs  []error
}

func (p *Plan) runChunked(ctx context.Context, executors []Executor, entry *log.Entry) (*accumulator, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	acc := p.newAccumulator()
	var mutex sync.Mutex

	var mgr *taskmgr.TaskManager[Executor, *chunkTask]
	mgr = taskmgr.NewTaskManager(func(exec Executor, task *chunkTask) error {
		if runCtx.Err() != nil {
			return nil
		}
		part, err := exec.Process(runCtx, task.lines)
		if err == nil && part == nil {
			err = errNoPartial
		}
		if err == nil && len(part.Emitted) != len(acc.emitted) {
			err = fmt.Errorf("%w: got %d, plan has %d", errStatsMismatch, len(part.Emitted), len(acc.emitted))
		}
		if err != nil {
			if runCtx.Err() != nil {
				return nil
			}
			task.tried++
			task.errs = append(task.errs, fmt.Errorf("executor %s: %w", exec.Name(), err))
			if task.tried >= len(executors) {
				cancel()
				return fmt.Errorf("chunk %d failed on every executor: %w", task.seq, errors.Join(task.errs...))
			}
			next := executors[(task.first+task.tried)%len(executors)]
			entry.WithError(err).Warnf("[plan] chunk %d failed on %s, retrying on %s", task.seq, exec.Name(), next.Name())
			mgr.AddTaskContext(next.Name(), task)
			return nil
		}
		mutex.Lock()
		acc.merge(part, p.combine)
		mutex.Unlock()
		return nil
	})
	for _, exec := range executors {
		mgr.AddContext(exec.Name(), exec)
	}
	mgr.Start()

	var lines int64
	seq := 0
	chunk := make([]string, 0, p.chunkSize)
	dispatch := func() {
		first := seq % len(executors)
		mgr.AddTaskContext(executors[first].Name(), &chunkTask{seq: seq, lines: chunk, first: first})
		seq++
		chunk = make([]string, 0, p.chunkSize)
	}
	readErr := source.ReadLines(runCtx, p.path, func(line string) error {
		lines++
		chunk = append(chunk, line)
		if len(chunk) == p.chunkSize {
			dispatch()
		}
		return nil
	})
	if readErr == nil && len(chunk) > 0 {
		dispatch()
	}
	if readErr != nil {
		// stop queued chunks, the run is lost anyway
		cancel()
	}
	runErr := mgr.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, runErr
	}
	if readErr != nil {
		return nil, readErr
	}
	entry.Debugf("[plan] %d chunks processed", seq)
	acc.lines = lines
	return acc, nil
}

func (p *Plan) stats(acc *accumulator) []OperatorStats {
	stats := make([]OperatorStats, 0, len(p.ops)+3)
	stats = append(stats, OperatorStats{Name: p.sourceName, In: acc.lines, Out: acc.lines})
	in := acc.lines
	for i, op := range p.ops {
		stats = append(stats, OperatorStats{Name: op.name, In: in, Out: acc.emitted[i]})
		in = acc.emitted[i]
	}
	pairs := acc.emitted[len(p.ops)]
	stats = append(stats, OperatorStats{Name: p.pairName, In: in, Out: pairs})
	stats = append(stats, OperatorStats{Name: p.reduceName, In: pairs, Out: int64(len(acc.counts))})
	return stats
}

type localExecutor struct {
	name string
	plan *Plan
}

func (e *localExecutor) Name() string {
	return e.name
}

func (e *localExecutor) Process(ctx context.Context, lines []string) (*types.Partial, error) {
	return e.plan.Process(ctx, lines)
}

func (p *Plan) localExecutors(n int) []Executor {
	executors := make([]Executor, 0, n)
	for i := range n {
		executors = append(executors, &localExecutor{name: fmt.Sprintf("local-%d", i), plan: p})
	}
	return executors
}
