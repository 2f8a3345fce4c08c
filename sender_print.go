package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"pgregory.net/rand"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

// make sure it implements Sender
var _ Sender = (*SenderPrint)(nil)

func ft(ts time.Time) string {
	return ts.Format("15:04:05.000")
}

// randID creates a random byte array of length l and returns it as a hex string.
func randID(l int) string {
	id := make([]byte, l)
	for i := 0; i < l; i++ {
		id[i] = byte(rand.Intn(256))
	}
	return fmt.Sprintf("%x", id)
}

type traceInfo struct {
	TraceId  string
	SpanId   string
	ParentId string
}

func (t *traceInfo) child() *traceInfo {
	return &traceInfo{
		TraceId:  t.TraceId,
		SpanId:   randID(4),
		ParentId: t.SpanId,
	}
}

func newTraceInfo() *traceInfo {
	return &traceInfo{TraceId: randID(6), SpanId: randID(4)}
}

type PrintSendable struct {
	TInfo     *traceInfo
	Name      string
	Level     int
	StartTime time.Time
	Fields    map[string]interface{}
	err       error
	out       io.Writer
}

func (s *PrintSendable) Fail(err error) {
	s.err = err
}

func (s *PrintSendable) Send() {
	endTime := time.Now()
	status := ""
	if s.err != nil {
		status = " error=" + s.err.Error()
	}
	fmt.Fprintf(s.out, "%s%s - T:%6.6s S:%4.4s P:%4.4s start:%v end:%v dur:%v%s %s\n",
		strings.Repeat("  ", s.Level), s.Name, s.TInfo.TraceId, s.TInfo.SpanId, s.TInfo.ParentId,
		ft(s.StartTime), ft(endTime), endTime.Sub(s.StartTime).Round(time.Millisecond), status, formatFields(s.Fields))
}

func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return strings.Join(parts, " ")
}

// SenderPrint writes one line per span as it ends, indented by level. Spans
// end innermost first, so children print before their parents.
type SenderPrint struct {
	tracecount int
	nspans     int
	out        io.Writer
	log        Logger
}

func NewSenderPrint(log Logger, out io.Writer) *SenderPrint {
	return &SenderPrint{log: log, out: out}
}

func (t *SenderPrint) Close() {
	t.log.Warn("sender sent %d traces with %d spans", t.tracecount, t.nspans)
}

type printKey struct{}

func (t *SenderPrint) CreateTrace(ctx context.Context, act *calltree.Activity, fielder *Fielder, count int64) (context.Context, Sendable) {
	t.tracecount++
	t.nspans++
	tinfo := newTraceInfo()
	ctx = context.WithValue(ctx, printKey{}, tinfo)
	return ctx, &PrintSendable{
		Name:      act.Name,
		TInfo:     tinfo,
		StartTime: time.Now(),
		Fields:    fielder.GetFields(act, count, 0),
		out:       t.out,
	}
}

func (t *SenderPrint) CreateSpan(ctx context.Context, act *calltree.Activity, level int, fielder *Fielder) (context.Context, Sendable) {
	t.nspans++
	var tinfo *traceInfo
	if parent, ok := ctx.Value(printKey{}).(*traceInfo); ok {
		tinfo = parent.child()
	} else {
		// no enclosing span: this one starts its own trace
		t.tracecount++
		tinfo = newTraceInfo()
	}
	ctx = context.WithValue(ctx, printKey{}, tinfo)
	return ctx, &PrintSendable{
		Name:      act.Name,
		TInfo:     tinfo,
		Level:     level,
		StartTime: time.Now(),
		Fields:    fielder.GetFields(act, 0, level),
		out:       t.out,
	}
}

func (t *SenderPrint) ImplicitTrace(ctx context.Context) context.Context {
	t.tracecount++
	return context.WithValue(ctx, printKey{}, newTraceInfo())
}
