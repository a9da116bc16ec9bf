package plan

import (
	"wordflow/mapreduce/functions"
	"wordflow/mapreduce/types"
)

// Step names of the standard word-count plan.
const (
	LoadFileStep    = "Load file"
	SplitWordsStep  = "Split words"
	FilterEmptyStep = "Filter empty words"
	ToLowerStep     = "To lower case, add counter"
	AddCountersStep = "Add counters"
)

// WordCount builds the standard plan: split lines on non-word characters,
// drop empty tokens, lowercase, and sum the occurrences of every word.
// An empty path builds a plan without source, usable only through Process.
func WordCount(jobName, path string, mode functions.Mode) *Plan {
	p := New(jobName)
	if path != "" {
		p.ReadTextFile(path).WithName(LoadFileStep)
	}
	p.wordCount = &mode
	return p.
		FlatMap(functions.Tokenizer(mode)).WithName(SplitWordsStep).
		Filter(functions.NonEmpty).WithName(FilterEmptyStep).
		MapToPair(functions.ToCountPair).WithName(ToLowerStep).
		ReduceByKey(types.Sum).WithName(AddCountersStep)
}

// WordCountMode reports the tokenizer mode of a plan built by WordCount.
// Plans assembled step by step report false, even when they use the same
// functions.
func (p *Plan) WordCountMode() (functions.Mode, bool) {
	if p.wordCount == nil {
		return functions.ASCII, false
	}
	return *p.wordCount, true
}
