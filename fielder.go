package main

import (
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/dgryski/go-wyhash"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
	"github.com/honeycombio/inferred-loadgen/internal/tracecheck"
)

// qualifiers and components make up word-pair field names and values, e.g.
// "cold-cache".
var qualifiers = []string{
	"async", "blocking", "cached", "cold", "deep", "eager", "fast", "idle", "inner", "lazy",
	"local", "nested", "outer", "pinned", "remote", "shallow", "slow", "stale", "sync", "warm",
}

var components = []string{
	"batch", "buffer", "cache", "call", "channel", "codec", "cursor", "frame", "handler", "index",
	"job", "ledger", "lock", "loop", "mutex", "pool", "queue", "reader", "request", "router",
	"shard", "socket", "stack", "stream", "task", "thread", "timer", "worker", "writer", "zone",
}

// Rng is a deterministic source seeded from a string.
type Rng struct {
	rng *rand.Rand
}

func NewRng(s string) Rng {
	return Rng{rand.New(rand.NewSource(int64(wyhash.Hash([]byte(s), 2467825690))))}
}

func (r Rng) Intn(n int) int64 {
	return int64(r.rng.Intn(n))
}

func (r Rng) Choice(a []string) string {
	return a[r.Intn(len(a))]
}

// Int returns a value in [min, max), or min if the range is empty.
func (r Rng) Int(min, max int) int64 {
	if max <= min {
		return int64(min)
	}
	return int64(r.rng.Intn(max-min) + min)
}

func (r Rng) Float(min, max float64) float64 {
	return r.rng.Float64()*(max-min) + min
}

func (r Rng) Gaussian(mean, stddev float64) float64 {
	return r.rng.NormFloat64()*stddev + mean
}

func (r Rng) GaussianInt(mean, stddev float64) int64 {
	return int64(r.Gaussian(mean, stddev))
}

func (r Rng) fromAlphabet(alphabet string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.rng.Intn(len(alphabet))]
	}
	return string(b)
}

func (r Rng) String(n int) string {
	return r.fromAlphabet("abcdefghijklmnopqrstuvwxyz", n)
}

func (r Rng) HexString(n int) string {
	return r.fromAlphabet("0123456789abcdef", n)
}

func (r Rng) WordPair() string {
	return r.Choice(qualifiers) + "-" + r.Choice(components)
}

// BoolWithProb is true p percent of the time.
func (r Rng) BoolWithProb(p int) bool {
	return r.Int(0, 100) < int64(p)
}

// getGoroutineID parses the id out of the "goroutine N [running]:" header of
// the current stack. Samplers report it too, so it ties spans to samples.
func getGoroutineID() uint64 {
	var buf [32]byte
	header := strings.TrimPrefix(string(buf[:runtime.Stack(buf[:], false)]), "goroutine ")
	if i := strings.IndexByte(header, ' '); i > 0 {
		header = header[:i]
	}
	id, err := strconv.ParseUint(header, 10, 64)
	if err != nil {
		panic("could not get goroutine ID")
	}
	return id
}

func getProcessID() int64 {
	return int64(os.Getpid())
}

// extraGenerators are the value generators picked from for random extra fields.
func (r Rng) extraGenerators() []func() any {
	return []func() any{
		func() any { return r.Intn(100) },
		func() any { return r.Int(-100, 100) },
		func() any { return r.GaussianInt(50, 30) },
		func() any { return r.BoolWithProb(99) },
		func() any { return r.BoolWithProb(50) },
		func() any { return r.BoolWithProb(1) },
		func() any { return r.Float(0, 1) },
		func() any { return r.Float(0, 1000) },
		func() any { return r.Gaussian(500, 300) },
		func() any { return r.String(5) },
		func() any { return r.HexString(16) },
		func() any { return r.WordPair() },
	}
}

var (
	constpat = regexp.MustCompile(`^([a-zA-Z0-9_.]+)=([^/].*)$`)
	genpat   = regexp.MustCompile(`^([a-zA-Z0-9_.]+)=/([ibfs][awxrg]?)([0-9.-]+)?(,[0-9.-]+)?$`)
	// groups                         1                 2             3       4
)

// parseUserFields expects a list of fields in the form of name=constant or
// name=/gen; see the usage text in main.go for the generators.
func parseUserFields(rng Rng, userfields []string) (map[string]func() any, error) {
	fields := make(map[string]func() any)
	for _, field := range userfields {
		if m := constpat.FindStringSubmatch(field); m != nil {
			fields[m[1]] = getConst(m[2])
			continue
		}
		m := genpat.FindStringSubmatch(field)
		if m == nil {
			return nil, fmt.Errorf("unparseable user field %s", field)
		}
		gen, err := newGenerator(rng, m[2], m[3], strings.TrimPrefix(m[4], ","))
		if err != nil {
			return nil, fmt.Errorf("user field %s: %w", field, err)
		}
		fields[m[1]] = gen
	}
	return fields, nil
}

func newGenerator(rng Rng, gentype, p1, p2 string) (func() any, error) {
	switch gentype {
	case "i", "ir", "ig":
		lo, hi, err := parseRange(p1, p2)
		if err != nil {
			return nil, err
		}
		if gentype == "ig" {
			mean, stddev := gaussianDefaults(lo, hi)
			return func() any { return rng.GaussianInt(mean, stddev) }, nil
		}
		if lo == 0 && hi == 0 {
			hi = 100
		}
		return func() any { return rng.Int(int(lo), int(hi)) }, nil
	case "f", "fr", "fg":
		lo, hi, err := parseRange(p1, p2)
		if err != nil {
			return nil, err
		}
		if gentype == "fg" {
			mean, stddev := gaussianDefaults(lo, hi)
			return func() any { return rng.Gaussian(mean, stddev) }, nil
		}
		if lo == 0 && hi == 0 {
			hi = 100
		}
		return func() any { return rng.Float(lo, hi) }, nil
	case "b":
		pct := 50.0
		if p1 != "" {
			var err error
			if pct, err = strconv.ParseFloat(p1, 64); err != nil || pct < 0 || pct > 100 {
				return nil, fmt.Errorf("bool percentage %q out of range", p1)
			}
		}
		return func() any { return rng.BoolWithProb(int(pct)) }, nil
	case "s", "sw", "sx", "sa":
		n := 16
		if p1 != "" {
			var err error
			if n, err = strconv.Atoi(p1); err != nil {
				return nil, fmt.Errorf("string length %q is not an int", p1)
			}
		}
		switch gentype {
		case "sw":
			words := make([]string, n)
			for i := range words {
				words[i] = rng.WordPair()
			}
			return func() any { return rng.Choice(words) }, nil
		case "sx":
			return func() any { return rng.HexString(n) }, nil
		default:
			return func() any { return rng.String(n) }, nil
		}
	}
	return nil, fmt.Errorf("invalid generator type %s", gentype)
}

// parseRange reads "/gN" as [0, N) and "/gN,M" as [N, M).
func parseRange(p1, p2 string) (lo, hi float64, err error) {
	if p1 != "" {
		if hi, err = strconv.ParseFloat(p1, 64); err != nil {
			return 0, 0, fmt.Errorf("%s is not a number", p1)
		}
	}
	if p2 == "" {
		return 0, hi, nil
	}
	lo = hi
	if hi, err = strconv.ParseFloat(p2, 64); err != nil {
		return 0, 0, fmt.Errorf("%s is not a number", p2)
	}
	return lo, hi, nil
}

func getConst(value string) func() any {
	switch value {
	case "true":
		return func() any { return true }
	case "false":
		return func() any { return false }
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return func() any { return i }
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return func() any { return f }
	}
	return func() any { return value }
}

// gaussianDefaults fills in a mean of 100 and a stddev of a tenth of the mean.
func gaussianDefaults(mean, stddev float64) (float64, float64) {
	if mean == 0 && stddev == 0 {
		return 100, 10
	}
	if stddev == 0 {
		stddev = mean / 10
	}
	return mean, stddev
}

// Fielder builds the attributes attached to every span the generator
// creates. User fields and nextras random fields (names and generators
// chosen from the seed, so they are stable across runs) go on every span.
// Every span also carries its activity's level and delays, and the
// goroutine and process ids; the root span of each trace additionally
// carries the cycle number, the run id and the call tree's signature.
type Fielder struct {
	fields    map[string]func() any
	runID     string
	signature string
}

func NewFielder(seed string, userFields map[string]string, nextras int, runID, signature string) (*Fielder, error) {
	rng := NewRng(seed)
	gens := rng.extraGenerators()

	// sorted so that the seed always drives the generators in the same order
	specs := make([]string, 0, len(userFields))
	for k, v := range userFields {
		specs = append(specs, k+"="+v)
	}
	sort.Strings(specs)
	fields, err := parseUserFields(rng, specs)
	if err != nil {
		return nil, err
	}
	for i := 0; i < nextras; i++ {
		fields[rng.WordPair()] = gens[rng.Intn(len(gens))]
	}
	fields["goroutine_id"] = func() any { return getGoroutineID() }
	fields["process_id"] = func() any { return getProcessID() }
	return &Fielder{fields: fields, runID: runID, signature: signature}, nil
}

// GetFields returns the fields for a span around act. count is the cycle
// number for root spans and 0 otherwise.
func (f *Fielder) GetFields(act *calltree.Activity, count int64, level int) map[string]any {
	fields := make(map[string]any, len(f.fields)+6)
	for k, v := range f.fields {
		fields[k] = v()
	}
	fields["activity.level"] = int64(level)
	fields["activity.self_delay_ms"] = act.SelfDelay.Milliseconds()
	fields["activity.total_delay_ms"] = act.TotalDelay().Milliseconds()
	if count != 0 {
		fields["cycle"] = count
		fields["run_id"] = f.runID
		fields[tracecheck.SignatureAttr] = f.signature
	}
	return fields
}

func (f *Fielder) AddFields(span trace.Span, act *calltree.Activity, count int64, level int) {
	for key, val := range f.GetFields(act, count, level) {
		switch v := val.(type) {
		case int64:
			span.SetAttributes(attribute.Int64(key, v))
		case uint64:
			span.SetAttributes(attribute.Int64(key, int64(v)))
		case float64:
			span.SetAttributes(attribute.Float64(key, v))
		case string:
			span.SetAttributes(attribute.String(key, v))
		case bool:
			span.SetAttributes(attribute.Bool(key, v))
		default:
			panic(fmt.Sprintf("unknown type %T for %s -- implementation error in fielder.go", v, key))
		}
	}
}
