package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"wordflow/cmd/wordcount/report"
	"wordflow/mapreduce/functions"
	"wordflow/mapreduce/plan"
	"wordflow/mapreduce/remote"
	"wordflow/mapreduce/source"
	"wordflow/mapreduce/store"
	"wordflow/mapreduce/types"
	"wordflow/mapreduce/wire"
	"wordflow/utils"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type options struct {
	job      string
	parallel int
	chunk    int
	nodes    string
	mode     string
	format   string
	stats    bool
	db       string
	history  int
	colored  bool
	logLevel string
}

func printUsage(w io.Writer, name string) {
	fmt.Fprintf(w, `Usage of %s: %s [OPTIONS] <path>
       %s -db <path> -history <n>
Count the words of a text file. <path> is a local path or a file:// URI.
Options:
  -job <name>          Job name (default "wordcount").
  -parallel <n>        Number of in-process executors (default 1, a single loop).
  -chunk <lines>       Lines per executor call (default %d).
  -nodes <a,b,...>     Worker node addresses; chunks are sent to them instead.
  -mode <mode>          Word characters, ascii (\w) or unicode (default ascii).
  -format <fmt>        Output format, plain or table (default plain).
  -stats               Print per-step record counts to stderr.
  -db <path>           Record the run in a SQLite database.
  -history <n>         List the last n runs recorded in -db instead of counting.
  -color               Colour the preamble when writing to a terminal.
  -loglevel <level>    Log level (default warning).
  -h                   Print this help message.
`, name, name, name, plan.DefaultChunkSize)
}

func checkArgs(args []string, opts *options) error {
	if opts.history < 0 {
		return fmt.Errorf("invalid -history %d", opts.history)
	}
	if opts.history > 0 {
		if opts.db == "" {
			return errors.New("-history needs -db")
		}
		if len(args) > 0 {
			return errors.New("-history takes no input file")
		}
		return nil
	}
	if len(args) == 0 {
		return errors.New("no input file specified")
	}
	if len(args) > 1 {
		return fmt.Errorf("expected one input file, got %d arguments", len(args))
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process globals.
func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	name := argv[0]
	var opts options
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.job, "job", "wordcount", "Job name")
	flagSet.IntVar(&opts.parallel, "parallel", 1, "Number of in-process executors")
	flagSet.IntVar(&opts.chunk, "chunk", plan.DefaultChunkSize, "Lines per executor call")
	flagSet.StringVar(&opts.nodes, "nodes", "", "Comma separated worker addresses")
	flagSet.StringVar(&opts.mode, "mode", functions.ASCII.String(), "Word characters, ascii or unicode")
	flagSet.StringVar(&opts.format, "format", string(report.Plain), "Output format")
	flagSet.BoolVar(&opts.stats, "stats", false, "Print step statistics")
	flagSet.StringVar(&opts.db, "db", "", "SQLite database recording runs")
	flagSet.IntVar(&opts.history, "history", 0, "List the last n recorded runs")
	flagSet.BoolVar(&opts.colored, "color", false, "Colour the preamble")
	flagSet.StringVar(&opts.logLevel, "loglevel", "warning", "Log level")
	flagSet.Usage = func() { printUsage(stderr, name) }
	if err := flagSet.Parse(argv[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := checkArgs(flagSet.Args(), &opts); err != nil {
		fmt.Fprintln(stderr, err)
		printUsage(stderr, name)
		return 2
	}

	level, err := utils.ParseLevel(opts.logLevel)
	logger := utils.NewLogger(level, stderr)
	if err != nil {
		logger.Warnf("bad log level %q, using %s", opts.logLevel, level)
	}
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		logger.Error(err)
		return 2
	}
	mode, err := functions.ParseMode(opts.mode)
	if err != nil {
		logger.Error(err)
		return 2
	}

	if opts.history > 0 {
		if err := history(ctx, opts.db, opts.history, report.NewPrinter(stdout, format, false)); err != nil {
			logger.Errorf("list runs: %v", err)
			return 1
		}
		return 0
	}

	p := plan.WordCount(opts.job, flagSet.Args()[0], mode).
		WithParallelism(opts.parallel).
		WithChunkSize(opts.chunk).
		WithLogger(logger)

	if nodes := utils.SplitList(opts.nodes); len(nodes) > 0 {
		executors, err := connectNodes(nodes, mode, logger)
		if err != nil {
			logger.Error(err)
			return 1
		}
		defer func() {
			for _, e := range executors {
				e.Close()
			}
		}()
		planExecutors := make([]plan.Executor, 0, len(executors))
		for _, e := range executors {
			planExecutors = append(planExecutors, e)
		}
		p.WithExecutors(planExecutors...)
	}

	res, err := p.Execute(ctx)
	if err != nil {
		var ioErr *source.IOError
		var decErr *source.DecodeError
		switch {
		case errors.As(err, &ioErr):
			logger.Errorf("cannot read input: %v", err)
		case errors.As(err, &decErr):
			logger.Errorf("input is not valid UTF-8: %v", err)
		default:
			logger.Errorf("word count failed: %v", err)
		}
		return 1
	}

	// recorded first so a failed run leaves stdout empty
	if opts.db != "" {
		if err := record(ctx, opts.db, p.Path(), res, logger); err != nil {
			logger.Errorf("record run: %v", err)
			return 1
		}
	}
	printer := report.NewPrinter(stdout, format, opts.colored)
	if err := printer.Counts(res.Counts); err != nil {
		logger.Errorf("write output: %v", err)
		return 1
	}
	if opts.stats {
		report.NewPrinter(stderr, format, false).Stats(res)
	}
	return 0
}

// history lists the last n runs recorded in the database at dbPath.
func history(ctx context.Context, dbPath string, n int, printer *report.Printer) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()
	jobs, err := s.List(ctx, n)
	if err != nil {
		return err
	}
	printer.History(jobs)
	return nil
}

// connectNodes pings every node once, then opens one connection per node.
func connectNodes(nodes []string, mode functions.Mode, logger *log.Logger) ([]*remote.Executor, error) {
	executors := make([]*remote.Executor, 0, len(nodes))
	fail := func(err error) ([]*remote.Executor, error) {
		for _, e := range executors {
			e.Close()
		}
		return nil, err
	}
	for _, node := range nodes {
		resp, err := utils.SendSingleRequest(node, &emptypb.Empty{})
		if err != nil {
			return fail(fmt.Errorf("ping worker %s: %w", node, err))
		}
		msg, ok := resp.(*structpb.Struct)
		if !ok {
			return fail(fmt.Errorf("ping worker %s: unexpected response %T", node, resp))
		}
		info, err := wire.DecodeNodeInfo(msg)
		if err != nil {
			return fail(fmt.Errorf("ping worker %s: %w", node, err))
		}
		logger.WithFields(log.Fields{
			"node":   info.ID,
			"chunks": info.Chunks,
			"pairs":  info.Pairs,
		}).Info("worker is up")
		e, err := remote.Dial(node, mode)
		if err != nil {
			return fail(err)
		}
		executors = append(executors, e)
	}
	return executors, nil
}

// record saves the run and reports whether it reproduced the previous run
// over the same input.
func record(ctx context.Context, dbPath, input string, res *plan.Result, logger *log.Logger) error {
	local, err := source.ResolvePath(input)
	if err != nil {
		return err
	}
	hash, err := utils.HashFile(local)
	if err != nil {
		return err
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	entry := logger.WithFields(log.Fields{"job": res.JobName, "id": res.JobID, "input_hash": hash})
	prev, err := s.Latest(ctx, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		entry.Info("first run over this input")
	case err != nil:
		return err
	default:
		var prevCounts types.ResultSet
		if _, prevCounts, err = s.Load(ctx, prev.ID); err != nil {
			return err
		}
		if prevCounts.Equal(res.Counts) {
			entry.WithField("previous", prev.ID).Info("counts match the previous run over this input")
		} else {
			entry.WithField("previous", prev.ID).Warn("counts differ from the previous run over this input")
		}
	}
	return s.Save(ctx, store.Job{
		ID:        res.JobID,
		Name:      res.JobName,
		Input:     input,
		InputHash: hash,
		CreatedAt: time.Now(),
	}, res.Counts)
}
