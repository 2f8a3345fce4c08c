package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"

	"github.com/honeycombio/inferred-loadgen/internal/tracecheck"
)

// Options defines the command line arguments
type Options struct {
	Port  int               `long:"port" description:"Port number to listen on for grpc" default:"4317"`
	Check tracecheck.Config `group:"Check Options"`
}

const (
	DefaultMaxSendMsgSize        = 4 * 1024 * 1024  // 4 MB
	DefaultMaxRecvMsgSize        = 15 * 1024 * 1024 // 15 MB
	DefaultMaxConnectionIdle     = 30 * time.Minute
	DefaultMaxConnectionAge      = time.Hour
	DefaultMaxConnectionAgeGrace = 5 * time.Minute
	DefaultKeepAlive             = 2 * time.Minute
	DefaultKeepAliveTimeout      = 20 * time.Second
)

// TraceServer is an OTLP trace service that checks what it receives.
type TraceServer struct {
	sink *tracecheck.Sink
	collectortrace.UnimplementedTraceServiceServer
}

func (t *TraceServer) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	t.sink.Receive(req)
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

// initGRPCReceiver starts a trace server on localhost and stops it when ctx is done.
func initGRPCReceiver(ctx context.Context, opts Options, sink *tracecheck.Sink, log *zap.SugaredLogger) error {
	addr := fmt.Sprintf("localhost:%d", opts.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := grpc.NewServer(
		grpc.MaxSendMsgSize(DefaultMaxSendMsgSize),
		grpc.MaxRecvMsgSize(DefaultMaxRecvMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     DefaultMaxConnectionIdle,
			MaxConnectionAge:      DefaultMaxConnectionAge,
			MaxConnectionAgeGrace: DefaultMaxConnectionAgeGrace,
			Time:                  DefaultKeepAlive,
			Timeout:               DefaultKeepAliveTimeout,
		}),
	)
	collectortrace.RegisterTraceServiceServer(srv, &TraceServer{sink: sink})

	go func() {
		log.Infof("gRPC server listening on %s", addr)
		if err := srv.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("stopping gRPC server")
		srv.GracefulStop()
	}()

	return nil
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

	if err := initGRPCReceiver(ctx, opts, sink, logger); err != nil {
		logger.Fatalf("failed to start gRPC receiver: %v", err)
	}
	go sink.Run(ctx)

	<-ctx.Done()
	sink.Close()
	logger.Info("shutting down")
}
