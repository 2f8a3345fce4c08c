package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/goware/urlx"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/honeycombio/inferred-loadgen/internal/calltree"
)

var ResourceLibrary = "inferred-loadgen"
var ResourceVersion = "dev"

type Options struct {
	Telemetry struct {
		Host        string `long:"host" description:"the url of the host to receive the telemetry (or honeycomb, dogfood, local, apm)" default:"honeycomb"`
		Insecure    bool   `long:"insecure" description:"use this for insecure http (not https) connections" yaml:",omitempty"`
		Dataset     string `long:"dataset" description:"service name and dataset for all traces" env:"HONEYCOMB_DATASET" default:"inferred-loadgen"`
		APIKey      string `long:"apikey" description:"the honeycomb API key(*)" env:"HONEYCOMB_API_KEY" yaml:"-"`
		SecretToken string `long:"secrettoken" description:"bearer token for an APM server(*)" env:"APM_SECRET_TOKEN" yaml:"-"`
	} `group:"Telemetry Options"`
	Workload struct {
		Tree      string        `long:"tree" description:"YAML file describing the call tree (defaults to the built-in reference tree)" yaml:",omitempty"`
		TimeScale float64       `long:"timescale" description:"multiplier applied to every delay in the tree" default:"1"`
		Pause     time.Duration `long:"pause" description:"pause between cycles" default:"1s"`
		DelayMode string        `long:"delaymode" description:"how delays occupy the thread: sleep parks it, spin keeps it on-CPU" choice:"sleep" choice:"spin" default:"sleep"`
		Extra     int           `long:"extra" description:"the number of random fields in a span beyond the standard ones" default:"0" yaml:",omitempty"`
	} `group:"Workload Options"`
	Quantity struct {
		CycleCount int64         `long:"cyclecount" description:"the number of cycles to run (0 means run until stopped)" default:"0" yaml:",omitempty"`
		RunTime    time.Duration `long:"runtime" description:"the maximum time to run (0 means no limit)" default:"0s" yaml:",omitempty"`
		KeepGoing  bool          `long:"keepgoing" description:"log a failed cycle and carry on instead of exiting" yaml:",omitempty"`
	} `group:"Quantity Options"`
	Output struct {
		Sender             string        `long:"sender" description:"type of sender" choice:"otel" choice:"autoconfig" choice:"honeycomb" choice:"print" choice:"dummy" default:"otel"`
		Protocol           string        `long:"protocol" description:"for otel and autoconfig only, protocol to use" choice:"grpc" choice:"http" default:"grpc"`
		MaxQueueSize       int           `long:"maxqueuesize" description:"for otel only, maximum number of spans to queue before dropping" default:"0"`
		MaxExportBatchSize int           `long:"maxexportbatchsize" description:"for otel only, maximum number of spans to export at once" default:"0"`
		BatchTimeout       time.Duration `long:"batchtimeout" description:"for otel only, maximum time to wait before sending a batch" default:"0s"`
		ExportTimeout      time.Duration `long:"exporttimeout" description:"for otel only, maximum time to wait for a batch to be sent" default:"0s"`
	} `group:"Output Options"`
	Global struct {
		LogLevel  string `long:"loglevel" description:"level of logging" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"warn"`
		DebugPort int    `long:"debugport" description:"port to listen on for pprof and metrics(*)" default:"-1" yaml:"-"`
		Seed      string `long:"seed" description:"string seed for random number generator (defaults to dataset name)" yaml:",omitempty"`
		Config    string `long:"config" description:"name of config file to load(*)" default:"" yaml:"-"`
		WriteCfg  string `long:"writecfg" description:"write effective YAML config to the specified output file and quit(*)" default:"" yaml:"-"`
		WriteTree string `long:"writetree" description:"write the effective call tree as YAML to the specified output file and quit(*)" default:"" yaml:"-"`
	} `group:"Global Options"`
	Fields  map[string]string `yaml:"fields,omitempty"`
	apihost *url.URL
	runID   string
}

func newOptions() *Options {
	return &Options{Fields: make(map[string]string)}
}

// defaultOptions returns options holding the flag defaults, the starting
// point for a config file that leaves some options out.
func defaultOptions() (*Options, error) {
	opts := newOptions()
	if _, err := flags.NewParser(opts, flags.None).ParseArgs(nil); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) CopyStarredFieldsFrom(other *Options) {
	o.Telemetry.APIKey = other.Telemetry.APIKey
	o.Telemetry.SecretToken = other.Telemetry.SecretToken
	o.Global.DebugPort = other.Global.DebugPort
	o.Global.Config = other.Global.Config
	o.Global.WriteCfg = other.Global.WriteCfg
	o.Global.WriteTree = other.Global.WriteTree
}

func (o *Options) DebugLevel() int {
	switch o.Global.LogLevel {
	case "debug":
		return 3
	case "info":
		return 2
	case "warn":
		return 1
	case "error":
		return 0
	default:
		return 0
	}
}

// Headers returns the authentication headers for the exporter.
func (o *Options) Headers() map[string]string {
	headers := make(map[string]string)
	if o.Telemetry.APIKey != "" {
		headers["x-honeycomb-team"] = o.Telemetry.APIKey
	}
	if o.Telemetry.SecretToken != "" {
		headers["Authorization"] = "Bearer " + o.Telemetry.SecretToken
	}
	return headers
}

// parses the host information and returns a cleaned-up version to make
// it easier to make sure that things are properly specified
func parseHost(host string, insecure bool, protocol string) (*url.URL, error) {
	switch host {
	case "honeycomb":
		host = "https://api.honeycomb.io:443"
	case "dogfood":
		host = "https://api-dogfood.honeycomb.io:443"
	case "local":
		host = "http://localhost:4317"
		if protocol == "http" {
			host = "http://localhost:4318"
		}
	case "apm":
		host = "http://localhost:8200"
	default:
	}

	// if the scheme is not specified, fall back to the value of the insecure flag
	defaultScheme := "https"
	if insecure {
		defaultScheme = "http"
	}
	u, err := urlx.ParseWithDefaultScheme(host, defaultScheme)
	if err != nil {
		return nil, fmt.Errorf("unable to parse host %q: %w", host, err)
	}
	if u.Port() == "" {
		port := "4317"
		if protocol == "http" {
			port = "4318"
		}
		u.Host = fmt.Sprintf("%s:%s", u.Host, port)
	}
	return u, nil
}

func ReadConfig(opts *Options, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(opts); err != nil {
		return fmt.Errorf("decoding %s: %w", filename, err)
	}
	return nil
}

func WriteConfig(opts *Options, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewEncoder(f).Encode(opts)
}

func loadTree(opts *Options) (*calltree.Tree, error) {
	tree := calltree.MustNew(calltree.Reference())
	if opts.Workload.Tree != "" {
		var err error
		if tree, err = calltree.LoadFile(opts.Workload.Tree); err != nil {
			return nil, err
		}
	}
	// a scale of 0 would erase every delay; treat it as unset
	if ts := opts.Workload.TimeScale; ts > 0 && ts != 1 {
		tree = tree.Scaled(ts)
	}
	return tree, nil
}

func writeTree(tree *calltree.Tree, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return tree.Write(f)
}

func newSender(log Logger, opts *Options) Sender {
	var processors []sdktrace.SpanProcessor
	if opts.DebugLevel() > 2 {
		processors = append(processors, NewSpanLogger(log))
	}
	switch opts.Output.Sender {
	case "dummy":
		return NewSenderDummy(log)
	case "print":
		return NewSenderPrint(log, os.Stdout)
	case "honeycomb":
		return NewSenderHoneycomb(opts)
	case "autoconfig":
		return NewSenderAutoconfig(log, opts, processors...)
	default:
		return NewSenderOTel(log, opts, processors...)
	}
}

func main() {
	cmdopts := newOptions()

	parser := flags.NewParser(cmdopts, flags.Default)
	parser.Usage = `[OPTIONS] [FIELD=VALUE]...

	inferred-loadgen produces a deterministic, precisely timed tree of nested
	calls over and over so that a stack-sampling span inference engine can be
	checked against a known structure. Some activities in the tree create
	spans; others are plain calls that only a sampler can see.

	The built-in tree is:
		root      (span, 100ms)
		  parent  (no span)
		    middle  (no span)
		      child-1   (span, 200ms)
		      child-1b  (no span, 300ms)
		      child-2   (span, 400ms)
	Use --tree to load another one from YAML (--writetree shows the format),
	and --timescale to speed it up or slow it down.

	Cycles run one at a time on a single OS thread with --pause between them,
	forever unless --cyclecount or --runtime says otherwise. Every activity
	runs under pprof labels "activity" and "activity.path".

	You can specify fields to be added to each span as FIELD=VALUE. The value
	can be a constant or a generator function starting with /.
	Allowed generators are /i, /ir, /ig, /f, /fr, /fg, /s, /sx, /sw, /b,
	optionally followed by a single number or a comma-separated pair of numbers.

	Options can be set in a config file given with "--config=FILENAME" (YAML).
	Options marked with (*) CANNOT be set in the config file.
	`

	args, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.Fatalf("error reading command line: %v", err)
	}

	opts := cmdopts
	if cmdopts.Global.Config != "" {
		if opts, err = defaultOptions(); err != nil {
			log.Fatalf("unable to set default options: %v", err)
		}
		if err := ReadConfig(opts, cmdopts.Global.Config); err != nil {
			log.Fatalf("err %v -- unable to read config file %s", err, cmdopts.Global.Config)
		}
		opts.CopyStarredFieldsFrom(cmdopts)
	}

	for _, arg := range args {
		s := strings.SplitN(arg, "=", 2)
		if len(s) < 2 {
			log.Fatalf("field `%s` missing required '='", arg)
		}
		opts.Fields[s[0]] = s[1]
	}

	if opts.Global.WriteCfg != "" {
		if err := WriteConfig(opts, opts.Global.WriteCfg); err != nil {
			log.Fatalf("unable to write config: %s", err)
		}
		os.Exit(0)
	}

	log := NewLogger(opts.DebugLevel())

	tree, err := loadTree(opts)
	if err != nil {
		log.Fatal("unable to load call tree: %v", err)
	}
	if opts.Global.WriteTree != "" {
		if err := writeTree(tree, opts.Global.WriteTree); err != nil {
			log.Fatal("unable to write call tree: %v", err)
		}
		os.Exit(0)
	}

	if opts.Global.Seed == "" {
		opts.Global.Seed = opts.Telemetry.Dataset
	}
	opts.runID = uuid.NewString()

	fielder, err := NewFielder(opts.Global.Seed, opts.Fields, opts.Workload.Extra, opts.runID, tree.SignatureHex())
	if err != nil {
		log.Fatal("unable to create fields as specified: %v", err)
	}

	if opts.apihost, err = parseHost(opts.Telemetry.Host, opts.Telemetry.Insecure, opts.Output.Protocol); err != nil {
		log.Fatal("%v", err)
	}
	log.Info("host: %s, dataset: %s, apikey: ...%4.4s, tree: %s, run: %s",
		opts.apihost.String(), opts.Telemetry.Dataset, opts.Telemetry.APIKey, tree.SignatureHex(), opts.runID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(reg)

	if opts.Global.DebugPort > 0 {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			addr := fmt.Sprintf("localhost:%d", opts.Global.DebugPort)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Error("debug server on %s: %v", addr, err)
			}
		}()
	}

	// the sender (and any span processors) must be in place before the first cycle
	sender := newSender(log, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Quantity.RunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Quantity.RunTime)
		defer cancel()
	}

	driver := NewDriver(sender, fielder, NewDelayer(opts.Workload.DelayMode), metrics)
	scheduler := NewScheduler(driver, tree, metrics, log, opts)

	g, gctx := errgroup.WithContext(ctx)
	counter := make(chan int64)
	g.Go(func() error {
		CycleCounter(gctx, log, opts.Quantity.CycleCount, counter)
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx, counter)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		log.Warn("shutting down: %v", context.Cause(ctx))
	}
	// flushes whatever the last cycles produced
	sender.Close()
	if err != nil {
		log.Fatal("%v", err)
	}
}
