package tracecheck

import (
	"context"
	"sort"
	"sync"
	"time"

	cuckoo "github.com/panmari/cuckoofilter"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// Config holds the verification settings shared by the sinks.
type Config struct {
	Tree            string        `long:"tree" description:"YAML file describing the expected call tree (defaults to the built-in reference tree)"`
	TimeScale       float64       `long:"timescale" description:"multiplier the generator applied to every delay" default:"1"`
	Settle          time.Duration `long:"settle" description:"how long a trace must be idle before it is checked" default:"5s"`
	Tolerance       time.Duration `long:"tolerance" description:"timing slack for scheduling jitter and sampling resolution" default:"20ms"`
	InferredAttr    string        `long:"inferredattr" description:"span attribute that marks a span as inferred" default:"is_inferred"`
	RequireInferred bool          `long:"requireinferred" description:"fail traces that are missing inferred spans for invisible activities"`
}

// LoadTree returns the configured tree, scaled like the generator's.
func (c Config) LoadTree() (*calltree.Tree, error) {
	tree := calltree.MustNew(calltree.Reference())
	if c.Tree != "" {
		var err error
		if tree, err = calltree.LoadFile(c.Tree); err != nil {
			return nil, err
		}
	}
	if c.TimeScale > 0 && c.TimeScale != 1 {
		tree = tree.Scaled(c.TimeScale)
	}
	return tree, nil
}

// Result is the outcome of checking one trace.
type Result struct {
	TraceID  string
	Start    time.Time
	Spans    int
	Problems []string
}

func (r Result) OK() bool {
	return len(r.Problems) == 0
}

type pending struct {
	spans    []Span
	ids      map[string]struct{}
	first    time.Time
	lastSeen time.Time
	hasRoot  bool
}

// Assembler groups incoming spans by trace and checks each trace once it has
// been quiet for the settle time. Spans arriving for a trace that was already
// checked are counted as late and dropped.
type Assembler struct {
	mu          sync.Mutex
	checker     *Checker
	rootName    string
	rootHasSpan bool
	settle      time.Duration
	traces      map[string]*pending
	done        *cuckoo.Filter
	now         func() time.Time

	passed int
	failed int
	late   int
}

func NewAssembler(tree *calltree.Tree, cfg Config) *Assembler {
	root := tree.Root()
	return &Assembler{
		checker:     NewChecker(tree, cfg.Tolerance, cfg.RequireInferred),
		rootName:    root.Name,
		rootHasSpan: root.Kind == calltree.KindInstrumented,
		settle:      cfg.Settle,
		traces:      make(map[string]*pending),
		done:        cuckoo.NewFilter(1000000),
		now:         time.Now,
	}
}

// Add records spans. Duplicates (the same span ID delivered twice) are ignored.
func (a *Assembler) Add(spans ...Span) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for _, s := range spans {
		if a.done.Lookup([]byte(s.TraceID)) {
			a.late++
			continue
		}
		p, ok := a.traces[s.TraceID]
		if !ok {
			p = &pending{ids: make(map[string]struct{}), first: now}
			a.traces[s.TraceID] = p
		}
		if _, dup := p.ids[s.SpanID]; dup {
			continue
		}
		p.ids[s.SpanID] = struct{}{}
		p.spans = append(p.spans, s)
		p.lastSeen = now
		if !s.Inferred && s.Name == a.rootName && s.ParentID == "" {
			p.hasRoot = true
		}
	}
}

// Sweep checks every trace that is ready at now. A trace is ready when it has
// been idle for the settle time and its root span has arrived; traces that
// never receive a root are given up on after ten settle times.
func (a *Assembler) Sweep(now time.Time) []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var results []Result
	for id, p := range a.traces {
		idle := now.Sub(p.lastSeen)
		switch {
		case (p.hasRoot || !a.rootHasSpan) && idle >= a.settle:
			results = append(results, a.finish(id, p, nil))
		case idle >= 10*a.settle:
			results = append(results, a.finish(id, p, []string{"root span " + a.rootName + " never arrived"}))
		}
	}
	sortResults(results)
	return results
}

// Flush checks every trace regardless of how recently it was updated.
func (a *Assembler) Flush() []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var results []Result
	for id, p := range a.traces {
		var extra []string
		if !p.hasRoot && a.rootHasSpan {
			extra = []string{"root span " + a.rootName + " never arrived"}
		}
		results = append(results, a.finish(id, p, extra))
	}
	sortResults(results)
	return results
}

func (a *Assembler) finish(id string, p *pending, extra []string) Result {
	delete(a.traces, id)
	a.done.Insert([]byte(id))
	r := Result{TraceID: id, Start: p.first, Spans: len(p.spans)}
	r.Problems = append(extra, a.checker.Check(p.spans)...)
	if r.OK() {
		a.passed++
	} else {
		a.failed++
	}
	return r
}

// Counts reports how many traces passed and failed, and how many spans
// arrived after their trace had been checked.
func (a *Assembler) Counts() (passed, failed, late int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.passed, a.failed, a.late
}

// Pending is the number of traces still waiting to be checked.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.traces)
}

// Run sweeps every interval until ctx is done, handing each result to report.
func (a *Assembler) Run(ctx context.Context, interval time.Duration, report func(Result)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, r := range a.Sweep(now) {
				report(r)
			}
		}
	}
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Start.Equal(results[j].Start) {
			return results[i].TraceID < results[j].TraceID
		}
		return results[i].Start.Before(results[j].Start)
	})
}
