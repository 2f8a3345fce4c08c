package tracecheck

import (
	"context"
	"time"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
)

// Sink is the receiving end shared by the OTLP sinks: it turns export
// requests into spans, assembles them into traces and logs the verdict on
// each trace.
type Sink struct {
	assembler    *Assembler
	rates        *RateTracker
	inferredAttr string
	log          *zap.SugaredLogger
}

func NewSink(cfg Config, log *zap.SugaredLogger) (*Sink, error) {
	tree, err := cfg.LoadTree()
	if err != nil {
		return nil, err
	}
	log.Infof("checking traces against tree %s rooted at %s", tree.SignatureHex(), tree.Root().Name)
	return &Sink{
		assembler:    NewAssembler(tree, cfg),
		rates:        NewRateTracker(10*time.Second, log.Infof),
		inferredAttr: cfg.InferredAttr,
		log:          log,
	}, nil
}

// Receive accepts one export request and returns the number of spans in it.
func (s *Sink) Receive(req *collectortrace.ExportTraceServiceRequest) int {
	spans := FromOTLP(req, s.inferredAttr)
	s.rates.TrackSpans(len(spans))
	s.assembler.Add(spans...)
	return len(spans)
}

// Run checks settled traces once a second until ctx is done.
func (s *Sink) Run(ctx context.Context) {
	s.assembler.Run(ctx, time.Second, s.report)
}

func (s *Sink) report(r Result) {
	if r.OK() {
		s.log.Infow("trace ok", "trace_id", r.TraceID, "spans", r.Spans)
		return
	}
	s.log.Warnw("trace failed", "trace_id", r.TraceID, "spans", r.Spans, "problems", r.Problems)
}

// Close checks every trace still pending and logs the session totals.
func (s *Sink) Close() (passed, failed int) {
	for _, r := range s.assembler.Flush() {
		s.report(r)
	}
	passed, failed, late := s.assembler.Counts()
	s.log.Infof("%d traces passed, %d failed, %d late spans, %d spans received this session",
		passed, failed, late, s.rates.Total())
	return passed, failed
}
