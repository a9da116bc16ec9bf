// Package plan assembles a word-count style job as a chain of named
// operators and runs it, either in a single driver loop or by cutting the
// input into chunks handed to executors.
//
//	counts, err := plan.New("wordcount").
//		ReadTextFile(path).WithName("Load file").
//		FlatMap(functions.Tokenizer(functions.ASCII)).WithName("Split words").
//		Filter(functions.NonEmpty).WithName("Filter empty words").
//		MapToPair(functions.ToCountPair).WithName("To lower case, add counter").
//		ReduceByKey(types.Sum).WithName("Add counters").
//		Collect(ctx)
//
// Building mistakes are recorded on the plan and returned by Execute.
package plan

import (
	"errors"
	"fmt"

	"wordflow/mapreduce/functions"
	"wordflow/mapreduce/types"
	"wordflow/utils"

	log "github.com/sirupsen/logrus"
)

// DefaultChunkSize is the number of lines handed to an executor at once.
const DefaultChunkSize = 1024

// ErrIncompatibleExecutor is returned by Execute when an executor cannot run
// the plan's steps.
var ErrIncompatibleExecutor = errors.New("executor cannot run this plan")

var (
	ErrNoSource      = errors.New("plan has no source")
	ErrNoMapper      = errors.New("plan has no pair mapper")
	ErrNoReduce      = errors.New("plan has no reduce")
	errDuplicateStep = errors.New("step added twice")
	errOutOfOrder    = errors.New("step added out of order")
	errNothingToName = errors.New("WithName called before any step")
	errBadOption     = errors.New("invalid option")
)

type opKind uint8

const (
	flatMapOp opKind = iota
	filterOp
)

func (k opKind) String() string {
	if k == filterOp {
		return "Filter"
	}
	return "FlatMap"
}

// operator is a record-to-records step running before the pair mapper.
type operator struct {
	name    string
	kind    opKind
	flatMap func(string, func(string))
	filter  func(string) bool
}

// Plan is an ordered list of named steps. Configure it fully before calling
// Execute; a Plan is safe for concurrent Process calls once built.
type Plan struct {
	jobName string

	path       string
	sourceName string
	hasSource  bool

	ops []operator

	toPair   func(string) types.CountPair
	pairName string

	combine    types.Combiner
	reduceName string

	// points at the name of the step added last
	lastName *string
	err      error

	parallelism int
	chunkSize   int
	executors   []Executor
	logger      *log.Logger

	// set by WordCount; executors with fixed steps check it
	wordCount *functions.Mode
}

// New creates an empty plan for the named job.
func New(jobName string) *Plan {
	return &Plan{
		jobName:     jobName,
		parallelism: 1,
		chunkSize:   DefaultChunkSize,
		logger:      utils.Discard(),
	}
}

// Path returns the source path, empty for plans without a source.
func (p *Plan) Path() string {
	return p.path
}

func (p *Plan) fail(err error) *Plan {
	if p.err == nil {
		p.err = err
	}
	return p
}

func (p *Plan) sealed() bool {
	return p.toPair != nil || p.combine != nil
}

// ReadTextFile sets the source to the lines of the file at path.
func (p *Plan) ReadTextFile(path string) *Plan {
	if p.hasSource {
		return p.fail(fmt.Errorf("ReadTextFile: %w", errDuplicateStep))
	}
	if len(p.ops) > 0 || p.sealed() {
		return p.fail(fmt.Errorf("ReadTextFile: %w", errOutOfOrder))
	}
	p.hasSource = true
	p.path = path
	p.sourceName = "ReadTextFile"
	p.lastName = &p.sourceName
	return p
}

// FlatMap adds a step emitting zero or more records per input record.
func (p *Plan) FlatMap(fn func(record string, emit func(string))) *Plan {
	return p.addOperator(operator{kind: flatMapOp, flatMap: fn})
}

// Filter adds a step keeping the records for which keep returns true.
func (p *Plan) Filter(keep func(record string) bool) *Plan {
	return p.addOperator(operator{kind: filterOp, filter: keep})
}

func (p *Plan) addOperator(op operator) *Plan {
	if p.sealed() {
		return p.fail(fmt.Errorf("%s: %w", op.kind, errOutOfOrder))
	}
	if op.flatMap == nil && op.filter == nil {
		return p.fail(fmt.Errorf("%s: %w: nil function", op.kind, errBadOption))
	}
	op.name = op.kind.String()
	p.ops = append(p.ops, op)
	p.lastName = &p.ops[len(p.ops)-1].name
	return p
}

// MapToPair adds the step turning each record into a key and a count.
func (p *Plan) MapToPair(fn func(record string) types.CountPair) *Plan {
	if p.toPair != nil {
		return p.fail(fmt.Errorf("MapToPair: %w", errDuplicateStep))
	}
	if p.combine != nil {
		return p.fail(fmt.Errorf("MapToPair: %w", errOutOfOrder))
	}
	if fn == nil {
		return p.fail(fmt.Errorf("MapToPair: %w: nil function", errBadOption))
	}
	p.toPair = fn
	p.pairName = "Map"
	p.lastName = &p.pairName
	return p
}

// ReduceByKey adds the terminal step folding counts of equal keys with
// combine, which must be commutative and associative.
func (p *Plan) ReduceByKey(combine types.Combiner) *Plan {
	if p.combine != nil {
		return p.fail(fmt.Errorf("ReduceByKey: %w", errDuplicateStep))
	}
	if p.toPair == nil {
		return p.fail(fmt.Errorf("ReduceByKey: %w", errOutOfOrder))
	}
	if combine == nil {
		return p.fail(fmt.Errorf("ReduceByKey: %w: nil combiner", errBadOption))
	}
	p.combine = combine
	p.reduceName = "ReduceByKey"
	p.lastName = &p.reduceName
	return p
}

// WithName names the step added last.
func (p *Plan) WithName(name string) *Plan {
	if p.lastName == nil {
		return p.fail(errNothingToName)
	}
	*p.lastName = name
	return p
}

// WithParallelism runs the job on n in-process executors. Values below 2
// keep the single driver loop. Ignored when executors are set.
func (p *Plan) WithParallelism(n int) *Plan {
	if n < 1 {
		return p.fail(fmt.Errorf("%w: parallelism %d", errBadOption, n))
	}
	p.parallelism = n
	return p
}

// WithChunkSize sets how many lines make up one executor call.
func (p *Plan) WithChunkSize(lines int) *Plan {
	if lines < 1 {
		return p.fail(fmt.Errorf("%w: chunk size %d", errBadOption, lines))
	}
	p.chunkSize = lines
	return p
}

// WithExecutors runs the job on the given executors instead of in-process
// ones. Executor names must be unique.
func (p *Plan) WithExecutors(executors ...Executor) *Plan {
	seen := make(map[string]struct{}, len(executors))
	for _, e := range executors {
		if _, ok := seen[e.Name()]; ok {
			return p.fail(fmt.Errorf("%w: duplicate executor %s", errBadOption, e.Name()))
		}
		seen[e.Name()] = struct{}{}
	}
	p.executors = executors
	return p
}

// WithLogger sets the logger used while executing.
func (p *Plan) WithLogger(logger *log.Logger) *Plan {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Names returns the step names in execution order.
func (p *Plan) Names() []string {
	names := make([]string, 0, len(p.ops)+3)
	if p.hasSource {
		names = append(names, p.sourceName)
	}
	for _, op := range p.ops {
		names = append(names, op.name)
	}
	if p.toPair != nil {
		names = append(names, p.pairName)
	}
	if p.combine != nil {
		names = append(names, p.reduceName)
	}
	return names
}

func (p *Plan) validate(needSource bool) error {
	if p.err != nil {
		return p.err
	}
	if needSource && !p.hasSource {
		return ErrNoSource
	}
	if p.toPair == nil {
		return ErrNoMapper
	}
	if p.combine == nil {
		return ErrNoReduce
	}
	return nil
}
