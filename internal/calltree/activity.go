// Package calltree describes the fixed tree of activities that the generator
// executes once per cycle.
//
// An activity is either instrumented (wrapped in an explicit span) or
// invisible (a plain call with no span, left for a stack-sampling engine to
// recover). A Tree is validated when it is built and never changes afterwards.
package calltree

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind says whether an activity gets a span. The zero Kind is invalid, so an
// activity must always state its kind.
type Kind int

const (
	KindInstrumented Kind = iota + 1
	KindInvisible
)

func (k Kind) String() string {
	switch k {
	case KindInstrumented:
		return "instrumented"
	case KindInvisible:
		return "invisible"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instrumented", "span":
		return KindInstrumented, nil
	case "invisible", "inferred":
		return KindInvisible, nil
	}
	return 0, fmt.Errorf("unknown activity kind %q", s)
}

func (k Kind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	kind, err := ParseKind(value.Value)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Activity is a node in the call tree. SelfDelay is spent before the children
// run, in declaration order.
type Activity struct {
	Name      string        `yaml:"name"`
	Kind      Kind          `yaml:"kind"`
	SelfDelay time.Duration `yaml:"delay,omitempty"`
	Children  []*Activity   `yaml:"children,omitempty"`
}

// Instrumented returns an activity that gets its own span.
func Instrumented(name string, delay time.Duration, children ...*Activity) *Activity {
	return &Activity{Name: name, Kind: KindInstrumented, SelfDelay: delay, Children: children}
}

// Invisible returns an activity that is executed without any tracing call.
func Invisible(name string, delay time.Duration, children ...*Activity) *Activity {
	return &Activity{Name: name, Kind: KindInvisible, SelfDelay: delay, Children: children}
}

// TotalDelay is the sum of the delays in the subtree rooted at a; a span
// around a can never be shorter than this.
func (a *Activity) TotalDelay() time.Duration {
	total := a.SelfDelay
	for _, c := range a.Children {
		total += c.TotalDelay()
	}
	return total
}

func (a *Activity) clone(scale float64) *Activity {
	c := &Activity{
		Name:      a.Name,
		Kind:      a.Kind,
		SelfDelay: time.Duration(float64(a.SelfDelay) * scale),
	}
	if len(a.Children) > 0 {
		c.Children = make([]*Activity, len(a.Children))
		for i, child := range a.Children {
			c.Children[i] = child.clone(scale)
		}
	}
	return c
}

// Reference is the workload the inferred-spans engine is validated against:
// real work happens inside "parent", "middle" and "child-1b", none of which
// create spans.
func Reference() *Activity {
	return Instrumented("root", 100*time.Millisecond,
		Invisible("parent", 0,
			Invisible("middle", 0,
				Instrumented("child-1", 200*time.Millisecond),
				Invisible("child-1b", 300*time.Millisecond),
				Instrumented("child-2", 400*time.Millisecond),
			),
		),
	)
}
