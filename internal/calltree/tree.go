package calltree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgryski/go-wyhash"
	"gopkg.in/yaml.v3"
)

var (
	ErrNilActivity   = errors.New("nil activity")
	ErrEmptyName     = errors.New("activity has no name")
	ErrNegativeDelay = errors.New("negative delay")
	ErrDuplicateName = errors.New("duplicate activity name")
	ErrSharedChild   = errors.New("activity appears more than once in the tree")
	ErrCycle         = errors.New("activity is its own ancestor")
	ErrUnknownKind   = errors.New("activity kind missing or unknown")
)

const signatureSeed = 2467825690

// Tree is a validated, immutable call tree.
type Tree struct {
	root   *Activity
	byName map[string]Expectation
	order  []Expectation
	sig    uint64
}

// New validates root and returns a Tree holding a private copy of it.
func New(root *Activity) (*Tree, error) {
	if err := Validate(root); err != nil {
		return nil, err
	}
	return build(root.clone(1)), nil
}

// MustNew is New for trees that are fixed at compile time.
func MustNew(root *Activity) *Tree {
	t, err := New(root)
	if err != nil {
		panic(fmt.Sprintf("invalid call tree: %v", err))
	}
	return t
}

// Validate checks that root describes a finite tree: every node appears once,
// names are unique and non-empty, and delays are not negative.
func Validate(root *Activity) error {
	v := validator{
		onPath: make(map[*Activity]bool),
		seen:   make(map[*Activity]bool),
		names:  make(map[string]bool),
	}
	return v.visit(root)
}

type validator struct {
	onPath map[*Activity]bool
	seen   map[*Activity]bool
	names  map[string]bool
}

func (v *validator) visit(a *Activity) error {
	if a == nil {
		return ErrNilActivity
	}
	if v.onPath[a] {
		return fmt.Errorf("%w: %s", ErrCycle, a.Name)
	}
	if v.seen[a] {
		return fmt.Errorf("%w: %s", ErrSharedChild, a.Name)
	}
	if a.Name == "" {
		return ErrEmptyName
	}
	if v.names[a.Name] {
		return fmt.Errorf("%w: %s", ErrDuplicateName, a.Name)
	}
	if a.SelfDelay < 0 {
		return fmt.Errorf("%w: %s has %s", ErrNegativeDelay, a.Name, a.SelfDelay)
	}
	if a.Kind != KindInstrumented && a.Kind != KindInvisible {
		return fmt.Errorf("%w: %s has %s", ErrUnknownKind, a.Name, a.Kind)
	}
	v.seen[a] = true
	v.names[a.Name] = true
	v.onPath[a] = true
	for _, c := range a.Children {
		if err := v.visit(c); err != nil {
			return err
		}
	}
	delete(v.onPath, a)
	return nil
}

// Load reads a YAML tree description.
func Load(r io.Reader) (*Tree, error) {
	var root Activity
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decoding call tree: %w", err)
	}
	return New(&root)
}

func LoadFile(filename string) (*Tree, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return t, nil
}

// Write encodes the tree as YAML in the format Load accepts.
func (t *Tree) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t.root); err != nil {
		return err
	}
	return enc.Close()
}

// Root returns the root activity. Callers must not modify it.
func (t *Tree) Root() *Activity {
	return t.root
}

// Scaled returns a copy of the tree with every delay multiplied by f.
func (t *Tree) Scaled(f float64) *Tree {
	if f < 0 {
		f = 0
	}
	return build(t.root.clone(f))
}

// Signature identifies the shape of the tree: names, kinds and nesting.
// Delays are not part of it, so scaled trees share a signature.
func (t *Tree) Signature() uint64 {
	return t.sig
}

func (t *Tree) SignatureHex() string {
	return fmt.Sprintf("%016x", t.sig)
}

// Walk calls fn for every activity in execution order. parent is nil for
// the root.
func (t *Tree) Walk(fn func(a, parent *Activity, level int)) {
	var walk func(a, parent *Activity, level int)
	walk = func(a, parent *Activity, level int) {
		fn(a, parent, level)
		for _, c := range a.Children {
			walk(c, a, level+1)
		}
	}
	walk(t.root, nil, 0)
}

// Expectation is what a correct trace says about one activity.
type Expectation struct {
	Name string
	Kind Kind
	// Level is the depth of the activity, 0 for the root.
	Level int
	// Parent is the nearest enclosing activity, "" for the root.
	Parent string
	// SpanParent is the nearest enclosing instrumented activity, "" if
	// there is none.
	SpanParent string
	// MinDuration is the sum of all delays in the activity's subtree.
	MinDuration time.Duration
}

// Expectations lists every activity in execution order.
func (t *Tree) Expectations() []Expectation {
	out := make([]Expectation, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Tree) Lookup(name string) (Expectation, bool) {
	e, ok := t.byName[name]
	return e, ok
}

func build(root *Activity) *Tree {
	t := &Tree{root: root, byName: make(map[string]Expectation)}
	var buf []byte
	var walk func(a *Activity, parent, spanParent string, level int)
	walk = func(a *Activity, parent, spanParent string, level int) {
		e := Expectation{
			Name:        a.Name,
			Kind:        a.Kind,
			Level:       level,
			Parent:      parent,
			SpanParent:  spanParent,
			MinDuration: a.TotalDelay(),
		}
		t.order = append(t.order, e)
		t.byName[a.Name] = e

		buf = append(buf, a.Name...)
		buf = append(buf, 0, byte(a.Kind))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Children)))

		if a.Kind == KindInstrumented {
			spanParent = a.Name
		}
		for _, c := range a.Children {
			walk(c, a.Name, spanParent, level+1)
		}
	}
	walk(root, "", "", 0)
	t.sig = wyhash.Hash(buf, signatureSeed)
	return t
}
