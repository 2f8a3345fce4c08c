// inferred-loadgen runs a fixed tree of nested calls, over and over, so that
// a stack-sampling span inference engine can be checked against a structure
// that is known in advance.
//
// Each node of the tree is an activity with a name, a self delay and a list
// of children. Instrumented activities are wrapped in a span; invisible ones
// are plain calls that only a stack sampler can see. Running an activity
// means holding the thread for its self delay and then running its children
// in order, so at any instant exactly one root-to-leaf path is on the stack.
//
// The built-in tree is:
//
//	root          instrumented  100ms
//	  parent      invisible
//	    middle    invisible
//	      child-1   instrumented  200ms
//	      child-1b  invisible     300ms
//	      child-2   instrumented  400ms
//
// One run of the whole tree is a cycle and produces one trace. Cycles run
// one after another on a single locked OS thread with a pause between them,
// until the cycle count or run time is reached or the process is signalled.
// An interrupted cycle still ends every span it started.
//
// Spans go to an OTLP endpoint (directly or through otel-config-go), to
// Honeycomb through the beeline, to stdout, or nowhere. Every activity runs
// under the pprof labels "activity" and "activity.path", and the root span
// of every trace carries the cycle number, the run id and the tree's
// signature so that the sinks in cmd/ can check what they receive.
package main
