package tracecheck

import (
	"fmt"
	"sort"
	"time"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// Checker compares the spans of one trace with a call tree.
type Checker struct {
	tree *calltree.Tree
	// Tolerance absorbs scheduling jitter and the resolution of the
	// sampler that produced inferred spans.
	Tolerance time.Duration
	// RequireInferred makes a missing inferred span for an invisible
	// activity a problem.
	RequireInferred bool
}

func NewChecker(tree *calltree.Tree, tolerance time.Duration, requireInferred bool) *Checker {
	return &Checker{tree: tree, Tolerance: tolerance, RequireInferred: requireInferred}
}

// Check returns a description of everything wrong with the trace; an empty
// result means the trace matches the tree.
func (c *Checker) Check(spans []Span) []string {
	byID := make(map[string]Span, len(spans))
	explicit := make(map[string][]Span)
	inferred := make(map[string][]Span)
	for _, s := range spans {
		byID[s.SpanID] = s
		if s.Inferred {
			inferred[s.Name] = append(inferred[s.Name], s)
		} else {
			explicit[s.Name] = append(explicit[s.Name], s)
		}
	}

	var problems []string
	observed := make(map[string]Span)
	for _, exp := range c.tree.Expectations() {
		switch exp.Kind {
		case calltree.KindInstrumented:
			got := explicit[exp.Name]
			if len(got) != 1 {
				problems = append(problems, fmt.Sprintf("expected 1 span %q, got %d", exp.Name, len(got)))
				continue
			}
			s := got[0]
			observed[exp.Name] = s
			if p := c.checkParent(s, exp.SpanParent, byID); p != "" {
				problems = append(problems, p)
			}
			if s.Duration()+c.Tolerance < exp.MinDuration {
				problems = append(problems, fmt.Sprintf("span %q lasted %s, less than its %s of delays", exp.Name, s.Duration(), exp.MinDuration))
			}
			if exp.Parent == "" && s.Signature != "" && s.Signature != c.tree.SignatureHex() {
				problems = append(problems, fmt.Sprintf("trace signature %s does not match tree %s", s.Signature, c.tree.SignatureHex()))
			}
		case calltree.KindInvisible:
			got := inferred[exp.Name]
			if len(got) == 0 {
				if c.RequireInferred {
					problems = append(problems, fmt.Sprintf("no inferred span for %q", exp.Name))
				}
				continue
			}
			observed[exp.Name] = earliest(got)
			for _, s := range got {
				if p := c.checkParent(s, exp.Parent, byID); p != "" {
					problems = append(problems, p)
				}
			}
		}
	}

	var extra []string
	for name := range explicit {
		if exp, ok := c.tree.Lookup(name); !ok || exp.Kind != calltree.KindInstrumented {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		problems = append(problems, fmt.Sprintf("unexpected span %q", name))
	}

	return append(problems, c.checkOrder(observed)...)
}

func (c *Checker) checkParent(s Span, want string, byID map[string]Span) string {
	if want == "" {
		if p, ok := byID[s.ParentID]; ok && s.ParentID != "" {
			return fmt.Sprintf("%q should have no parent but is nested under %q", s.Name, p.Name)
		}
		return ""
	}
	p, ok := byID[s.ParentID]
	if !ok {
		return fmt.Sprintf("%q should be nested under %q but its parent is missing", s.Name, want)
	}
	if p.Name != want {
		return fmt.Sprintf("%q is nested under %q, expected %q", s.Name, p.Name, want)
	}
	return ""
}

// checkOrder makes sure that siblings which were both observed ran one after
// the other in declaration order.
func (c *Checker) checkOrder(observed map[string]Span) []string {
	var problems []string
	c.tree.Walk(func(a, _ *calltree.Activity, _ int) {
		var prev *Span
		for _, child := range a.Children {
			s, ok := observed[child.Name]
			if !ok {
				continue
			}
			if prev != nil && s.Start.Add(c.Tolerance).Before(prev.End) {
				problems = append(problems, fmt.Sprintf("%q started before %q ended", s.Name, prev.Name))
			}
			prev = &s
		}
	})
	return problems
}

func earliest(spans []Span) Span {
	first := spans[0]
	for _, s := range spans[1:] {
		if s.Start.Before(first.Start) {
			first = s
		}
	}
	return first
}
