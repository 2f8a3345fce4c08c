package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/klauspost/compress/gzip"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/honeycombio/inferred-loadgen/internal/tracecheck"
)

// Options defines the command line arguments
type Options struct {
	Port  int               `long:"port" description:"Port number to listen on for HTTP" default:"4318"`
	Check tracecheck.Config `group:"Check Options"`
}

// decodeRequest reads an OTLP/HTTP trace export body, protobuf or JSON,
// optionally gzipped.
func decodeRequest(r *http.Request) (*collectortrace.ExportTraceServiceRequest, error) {
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip data: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("error reading request body: %w", err)
	}

	var req collectortrace.ExportTraceServiceRequest
	switch r.Header.Get("Content-Type") {
	case "application/json":
		err = protojson.Unmarshal(body, &req)
	default:
		err = proto.Unmarshal(body, &req)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid trace data: %w", err)
	}
	return &req, nil
}

func tracesHandler(sink *tracecheck.Sink, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()

		req, err := decodeRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n := sink.Receive(req)
		log.Debugf("received %d spans on /v1/traces", n)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}
}

func initHTTPReceiver(ctx context.Context, opts Options, sink *tracecheck.Sink, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/traces", tracesHandler(sink, log))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: mux,
	}

	go func() {
		log.Infof("HTTP server listening on port %d", opts.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("error during server shutdown: %v", err)
		}
	}()
}

func main() {
	var opts Options

	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("error parsing flags: %v", err)
	}

	zlog, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("unable to create logger: %v", err)
	}
	logger := zlog.Sugar()
	defer logger.Sync()

	sink, err := tracecheck.NewSink(opts.Check, logger)
	if err != nil {
		logger.Fatalf("unable to load call tree: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initHTTPReceiver(ctx, opts, sink, logger)
	go sink.Run(ctx)

	<-ctx.Done()
	sink.Close()
	logger.Info("shutting down")
}
