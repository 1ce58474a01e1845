// Command immortal-bench runs the throughput / ping-pong experiment against
// a local Coordinator pair. It is the thin adapter between the CLI surface
// and the runtime core; all protocol work happens in the library.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	immortal "github.com/ehrlich-b/go-immortal"
	"github.com/ehrlich-b/go-immortal/bench"
	"github.com/ehrlich-b/go-immortal/internal/logging"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: immortal-bench <role=0/1/2/3> <destination> <up_port> <down_port> [roundsz] [trials] [bufsz]\n")
	fmt.Fprintf(os.Stderr, "  role 0/1: sender/receiver, throughput mode\n")
	fmt.Fprintf(os.Stderr, "  role 2/3: sender/receiver, ping-pong mode\n")
	fmt.Fprintf(os.Stderr, "  destination: name of the OTHER party (empty string sends to self)\n")
	fmt.Fprintf(os.Stderr, "  roundsz: log2 of bytes per round (default 30); in ping-pong mode, log2 of the round-trip count\n")
	fmt.Fprintf(os.Stderr, "  trials:  repeat the whole experiment N times\n")
	fmt.Fprintf(os.Stderr, "  bufsz:   log2 of the outbound ring size in bytes\n")
	os.Exit(2)
}

func intArg(s, name string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad %s argument %q: %v\n", name, s, err)
		usage()
	}
	return v
}

func main() {
	args := os.Args[1:]
	if len(args) < 4 || len(args) > 7 {
		usage()
	}

	role := intArg(args[0], "role")
	if role < 0 || role > 3 {
		usage()
	}
	dest := args[1]
	upPort := intArg(args[2], "up_port")
	downPort := intArg(args[3], "down_port")

	cfg := bench.Config{
		Sender:  role == 0 || role == 2,
		Dest:    dest,
		Prefill: true,
	}
	if role >= 2 {
		cfg.Mode = bench.ModePingPong
		cfg.Prefill = false
	}

	bufferBytes := 0
	if len(args) >= 5 {
		cfg.BytesPerRound = int64(1) << intArg(args[4], "roundsz")
	}
	if len(args) >= 6 {
		cfg.Trials = intArg(args[5], "trials")
	}
	if len(args) >= 7 {
		bufferBytes = 1 << intArg(args[6], "bufsz")
	}
	if cfg.Mode == bench.ModeThroughput && cfg.BytesPerRound > 0 &&
		cfg.BytesPerRound <= bench.MaxMessageBytes {
		fmt.Fprintf(os.Stderr, "bytes per round must exceed the max message size (%d)\n",
			bench.MaxMessageBytes)
		os.Exit(2)
	}

	logger := logging.NewLogger(logging.DefaultConfig())
	service := bench.New(cfg)

	params := immortal.DefaultParams(service)
	params.UpPort = upPort
	params.DownPort = downPort
	params.BufferBytes = bufferBytes
	params.MaxMessageBytes = bench.MaxMessageBytes

	logger.Printf("bench %s: connecting to coordinator (up=%d down=%d)",
		service.RunID(), upPort, downPort)

	rt, err := immortal.Initialize(params, &immortal.Options{Logger: logger})
	if err != nil {
		logger.Printf("initialize failed: %v", err)
		os.Exit(1)
	}
	service.Bind(rt)
	defer rt.Close()

	// A signal requests the same cooperative stop the service itself uses.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("signal received, shutting down")
		rt.Shutdown()
	}()

	if err := rt.Run(); err != nil {
		logger.Printf("runtime failed: %v", err)
		os.Exit(1)
	}

	s := rt.Metrics().Snapshot()
	logger.Printf("bench %s: done (records=%d rpcs_in=%d rpcs_out=%d sent=%d bytes)",
		service.RunID(), s.LogRecords, s.RPCsIn, s.RPCsOut, s.SentBytes)
}
