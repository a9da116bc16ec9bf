package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"wordflow/mapreduce/functions"
	"wordflow/mapreduce/source"
	"wordflow/mapreduce/types"
)

const sample = `It was the best of times, it was the worst of times,
it was the age of wisdom, it was the age of foolishness,
...

  "Hello," said the CAT; the cat said: hello!
snake_case counts as ONE word, 42 is a word too
`

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWordCountExample(t *testing.T) {
	path := writeInput(t, "the cat sat on the Cat mat")
	res, err := WordCount("test", path, functions.ASCII).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := types.ResultSet{"the": 2, "cat": 2, "sat": 1, "on": 1, "mat": 1}
	if !res.Counts.Equal(want) {
		t.Fatalf("got %v, want %v", res.Counts, want)
	}
	wantStats := []OperatorStats{
		{LoadFileStep, 1, 1},
		{SplitWordsStep, 1, 7},
		{FilterEmptyStep, 7, 7},
		{ToLowerStep, 7, 7},
		{AddCountersStep, 7, 5},
	}
	if !slices.Equal(res.Stats, wantStats) {
		t.Errorf("stats = %v, want %v", res.Stats, wantStats)
	}
	if res.JobID == "" || res.JobName != "test" || res.Lines != 1 {
		t.Errorf("unexpected result header %+v", res)
	}
}

func TestDelimiterOnlyLineContributesNothing(t *testing.T) {
	path := writeInput(t, ", , ,\n")
	res, err := WordCount("test", path, functions.ASCII).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Counts) != 0 {
		t.Fatalf("got %v", res.Counts)
	}
	// the empty tokens are produced by the split and removed by the filter
	if res.Stats[1].Out != 2 || res.Stats[2].Out != 0 {
		t.Errorf("stats = %v", res.Stats)
	}
}

func TestTotalEqualsNonEmptyTokens(t *testing.T) {
	path := writeInput(t, sample)
	counts, err := WordCount("test", path, functions.ASCII).Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	words := regexp.MustCompile(`[0-9A-Za-z_]+`).FindAllString(sample, -1)
	if counts.Total() != int64(len(words)) {
		t.Fatalf("total %d, want %d", counts.Total(), len(words))
	}
	if counts["hello"] != 2 || counts["cat"] != 2 || counts["snake_case"] != 1 || counts["42"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
	for k := range counts {
		if k != strings.ToLower(k) {
			t.Errorf("key %q is not lowercase", k)
		}
	}
}

func TestIdempotent(t *testing.T) {
	path := writeInput(t, sample)
	p := WordCount("test", path, functions.ASCII)
	first, err := p.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !first.Counts.Equal(second.Counts) {
		t.Fatal("two runs over the same file differ")
	}
	if first.JobID == second.JobID {
		t.Error("job ids should be unique per run")
	}
}

func TestExecutionModesAgree(t *testing.T) {
	var b strings.Builder
	for i := range 200 {
		fmt.Fprintf(&b, "line %d: %s\n", i, strings.Repeat("Go go GO, ", i%7))
	}
	path := writeInput(t, b.String())

	want, err := WordCount("seq", path, functions.ASCII).Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got, err := WordCount("par", path, functions.ASCII).
		WithParallelism(4).
		WithChunkSize(7).
		Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Counts.Equal(want.Counts) {
		t.Fatalf("parallel counts differ:\n%v\n%v", got.Counts, want.Counts)
	}
	if !slices.Equal(got.Stats, want.Stats) {
		t.Fatalf("parallel stats differ:\n%v\n%v", got.Stats, want.Stats)
	}
}

type flakyExecutor struct {
	name     string
	inner    *Plan
	failures atomic.Int32
	failLeft atomic.Int32
	calls    atomic.Int32
}

func (f *flakyExecutor) Name() string { return f.name }

func (f *flakyExecutor) Process(ctx context.Context, lines []string) (*types.Partial, error) {
	f.calls.Add(1)
	if f.failLeft.Add(-1) >= 0 {
		f.failures.Add(1)
		return nil, errors.New("connection reset")
	}
	return f.inner.Process(ctx, lines)
}

func TestRetryOnAnotherExecutor(t *testing.T) {
	path := writeInput(t, sample)
	worker := WordCount("worker", "", functions.ASCII)
	a := &flakyExecutor{name: "a", inner: worker}
	b := &flakyExecutor{name: "b", inner: worker}
	a.failLeft.Store(1000)

	got, err := WordCount("remote", path, functions.ASCII).
		WithExecutors(a, b).
		WithChunkSize(1).
		Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want, _ := WordCount("seq", path, functions.ASCII).Collect(context.Background())
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if a.failures.Load() == 0 {
		t.Error("executor a was never tried")
	}
}

func TestAllExecutorsFail(t *testing.T) {
	path := writeInput(t, "a b c\n")
	worker := WordCount("worker", "", functions.ASCII)
	a := &flakyExecutor{name: "a", inner: worker}
	b := &flakyExecutor{name: "b", inner: worker}
	a.failLeft.Store(10)
	b.failLeft.Store(10)
	_, err := WordCount("remote", path, functions.ASCII).WithExecutors(a, b).Execute(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed on every executor") {
		t.Fatalf("got %v", err)
	}
	if a.calls.Load()+b.calls.Load() != 2 {
		t.Errorf("each executor should be tried once, got %d calls", a.calls.Load()+b.calls.Load())
	}
}

type shortExecutor struct{}

func (shortExecutor) Name() string { return "short" }

func (shortExecutor) Process(ctx context.Context, lines []string) (*types.Partial, error) {
	return &types.Partial{Counts: types.ResultSet{}, Emitted: []int64{1}}, nil
}

func TestExecutorStatsMismatch(t *testing.T) {
	path := writeInput(t, "a\n")
	_, err := WordCount("x", path, functions.ASCII).WithExecutors(shortExecutor{}).Execute(context.Background())
	if !errors.Is(err, errStatsMismatch) {
		t.Fatalf("got %v", err)
	}
}

type emptyExecutor struct{}

func (emptyExecutor) Name() string { return "empty" }

func (emptyExecutor) Process(ctx context.Context, lines []string) (*types.Partial, error) {
	return nil, nil
}

func TestNilPartialIsRetried(t *testing.T) {
	path := writeInput(t, sample)
	worker := WordCount("worker", "", functions.ASCII)
	good := &flakyExecutor{name: "good", inner: worker}

	got, err := WordCount("x", path, functions.ASCII).
		WithExecutors(emptyExecutor{}, good).
		WithChunkSize(2).
		Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want, _ := WordCount("seq", path, functions.ASCII).Collect(context.Background())
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	_, err = WordCount("x", path, functions.ASCII).WithExecutors(emptyExecutor{}).Execute(context.Background())
	if !errors.Is(err, errNoPartial) {
		t.Fatalf("got %v", err)
	}
}

// pickyExecutor only runs word-count plans in one mode.
type pickyExecutor struct {
	flakyExecutor
	mode functions.Mode
}

func (e *pickyExecutor) CheckPlan(p *Plan) error {
	if mode, ok := p.WordCountMode(); !ok || mode != e.mode {
		return errors.New("unsupported plan")
	}
	return nil
}

func TestIncompatibleExecutorIsRejected(t *testing.T) {
	path := writeInput(t, "a b\n")
	e := &pickyExecutor{flakyExecutor: flakyExecutor{name: "picky", inner: WordCount("worker", "", functions.ASCII)}, mode: functions.ASCII}

	if _, err := WordCount("ok", path, functions.ASCII).WithExecutors(e).Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	custom := New("custom").
		ReadTextFile(path).
		FlatMap(func(line string, emit func(string)) {
			for _, f := range strings.Fields(line) {
				emit(f)
			}
		}).
		MapToPair(func(w string) types.CountPair { return types.CountPair{Key: w, Count: 1} }).
		ReduceByKey(types.Sum)
	for name, p := range map[string]*Plan{
		"custom steps": custom,
		"other mode":   WordCount("unicode", path, functions.Unicode),
	} {
		calls := e.calls.Load()
		_, err := p.WithExecutors(e).Execute(context.Background())
		if !errors.Is(err, ErrIncompatibleExecutor) {
			t.Errorf("%s: got %v", name, err)
		}
		if e.calls.Load() != calls {
			t.Errorf("%s: executor ran before the plan was rejected", name)
		}
	}
}

func TestWordCountMode(t *testing.T) {
	if mode, ok := WordCount("x", "", functions.Unicode).WordCountMode(); !ok || mode != functions.Unicode {
		t.Errorf("got %v, %v", mode, ok)
	}
	p := New("x").FlatMap(functions.Tokenizer(functions.ASCII)).MapToPair(functions.ToCountPair).ReduceByKey(types.Sum)
	if _, ok := p.WordCountMode(); ok {
		t.Error("hand-built plan reported as word count")
	}
}

func TestMissingFileFails(t *testing.T) {
	for _, parallel := range []int{1, 3} {
		res, err := WordCount("x", filepath.Join(t.TempDir(), "missing.txt"), functions.ASCII).
			WithParallelism(parallel).
			Execute(context.Background())
		var ioErr *source.IOError
		if !errors.As(err, &ioErr) || res != nil {
			t.Fatalf("parallel=%d: got %v, %v", parallel, res, err)
		}
	}
}

func TestDecodeErrorFailsParallelRun(t *testing.T) {
	path := writeInput(t, strings.Repeat("ok line\n", 50)+"bad \xfe\n")
	_, err := WordCount("x", path, functions.ASCII).
		WithParallelism(2).
		WithChunkSize(5).
		Execute(context.Background())
	var decErr *source.DecodeError
	if !errors.As(err, &decErr) || decErr.Line != 51 {
		t.Fatalf("got %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	path := writeInput(t, sample)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, parallel := range []int{1, 2} {
		_, err := WordCount("x", path, functions.ASCII).WithParallelism(parallel).Execute(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("parallel=%d: got %v", parallel, err)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	identity := func(s string) types.CountPair { return types.CountPair{Key: s, Count: 1} }
	tests := []struct {
		name string
		plan *Plan
		want error
	}{
		{"no source", New("x").MapToPair(identity).ReduceByKey(types.Sum), ErrNoSource},
		{"no mapper", New("x").ReadTextFile("f"), ErrNoMapper},
		{"no reduce", New("x").ReadTextFile("f").MapToPair(identity), ErrNoReduce},
		{"flatMap after mapper", New("x").ReadTextFile("f").MapToPair(identity).
			FlatMap(functions.Tokenizer(functions.ASCII)).ReduceByKey(types.Sum), errOutOfOrder},
		{"source twice", New("x").ReadTextFile("f").ReadTextFile("g"), errDuplicateStep},
		{"reduce before mapper", New("x").ReadTextFile("f").ReduceByKey(types.Sum), errOutOfOrder},
		{"name first", New("x").WithName("oops"), errNothingToName},
		{"bad parallelism", WordCount("x", "f", functions.ASCII).WithParallelism(0), errBadOption},
		{"bad chunk", WordCount("x", "f", functions.ASCII).WithChunkSize(-1), errBadOption},
		{"duplicate executors", WordCount("x", "f", functions.ASCII).
			WithExecutors(shortExecutor{}, shortExecutor{}), errBadOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.plan.Execute(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNames(t *testing.T) {
	got := WordCount("x", "f", functions.ASCII).Names()
	want := []string{LoadFileStep, SplitWordsStep, FilterEmptyStep, ToLowerStep, AddCountersStep}
	if !slices.Equal(got, want) {
		t.Fatalf("got %q", got)
	}
	got = New("x").ReadTextFile("f").Filter(functions.NonEmpty).Names()
	if !slices.Equal(got, []string{"ReadTextFile", "Filter"}) {
		t.Fatalf("default names: got %q", got)
	}
}

func TestProcessWithoutSource(t *testing.T) {
	part, err := WordCount("worker", "", functions.Unicode).
		Process(context.Background(), []string{"Ça va? ça VA.", ""})
	if err != nil {
		t.Fatal(err)
	}
	if !part.Counts.Equal(types.ResultSet{"ça": 2, "va": 2}) {
		t.Fatalf("got %v", part.Counts)
	}
	if !slices.Equal(part.Emitted, []int64{6, 4, 4}) {
		t.Fatalf("emitted = %v", part.Emitted)
	}
}

func ExamplePlan_Collect() {
	dir, _ := os.MkdirTemp("", "wordcount")
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "input.txt")
	os.WriteFile(path, []byte("the cat sat on the Cat mat\n"), 0644)

	counts, err := New("example").
		ReadTextFile(path).WithName("Load file").
		FlatMap(functions.Tokenizer(functions.ASCII)).WithName("Split words").
		Filter(functions.NonEmpty).WithName("Filter empty words").
		MapToPair(functions.ToCountPair).WithName("To lower case, add counter").
		ReduceByKey(types.Sum).WithName("Add counters").
		Collect(context.Background())
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("Found %d words:\n", len(counts))
	for _, pair := range counts.Sorted() {
		fmt.Printf("%dx %s\n", pair.Count, pair.Key)
	}
	// Output:
	// Found 5 words:
	// 2x cat
	// 2x the
	// 1x mat
	// 1x on
	// 1x sat
}
