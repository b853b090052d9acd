// Command crabedb-server opens a crabedb store and serves it over gRPC.
//
// Usage:
//
//	crabedb-server [flags] <directory>
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	crabedb "github.com/gabrielmougard/crabedb"
	"github.com/gabrielmougard/crabedb/internal/logging"
	"github.com/gabrielmougard/crabedb/rpc"
)

func main() {
	var (
		listenAddr             = pflag.String("listen", ":9090", "address to listen on")
		create                 = pflag.Bool("create", true, "create the store directory if it doesn't exist")
		syncMode               = pflag.String("sync", "frequency", "durability policy: always|never|frequency")
		syncInterval           = pflag.Duration("sync-interval", 2*time.Second, "fsync interval when --sync=frequency")
		maxFileSize            = pflag.Int64("max-file-size", 2<<30, "bytes before the active file rotates")
		fileChunkQueueSize     = pflag.Int("file-chunk-queue-size", 2048, "file descriptor cache capacity")
		compaction             = pflag.Bool("compaction", true, "enable the background compaction checker")
		compactionCheckFreq    = pflag.Duration("compaction-check-frequency", time.Hour, "interval between compaction eligibility checks")
		compactionWindowStart  = pflag.Int("compaction-window-start", 0, "earliest local hour compaction may run")
		compactionWindowEnd    = pflag.Int("compaction-window-end", 23, "latest local hour compaction may run")
		fragmentationTrigger   = pflag.Float64("fragmentation-trigger", 0.6, "fragmentation ratio that forces a compaction pass")
		fragmentationThreshold = pflag.Float64("fragmentation-threshold", 0.4, "fragmentation ratio that includes a file once a pass is triggered")
		deadBytesTrigger       = pflag.Uint64("dead-bytes-trigger", 512<<20, "dead bytes that force a compaction pass")
		deadBytesThreshold     = pflag.Uint64("dead-bytes-threshold", 128<<20, "dead bytes that include a file once a pass is triggered")
		smallFileThreshold     = pflag.Uint64("small-file-threshold", 10<<20, "file size at or below which a file is swept into any triggered pass")
		logLevel               = pflag.String("log-level", "info", "error|warn|info|debug")
	)
	pflag.Parse()

	args := pflag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: crabedb-server [flags] <directory>")
		os.Exit(1)
	}
	dir := args[0]

	level, err := parseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	opts := crabedb.DefaultOptions()
	opts.Create = *create
	opts.SyncInterval = *syncInterval
	opts.MaxFileSize = *maxFileSize
	opts.FileChunkQueueSize = *fileChunkQueueSize
	opts.Compaction = *compaction
	opts.CompactionCheckFrequency = *compactionCheckFreq
	opts.CompactionWindowStart = *compactionWindowStart
	opts.CompactionWindowEnd = *compactionWindowEnd
	opts.FragmentationTrigger = *fragmentationTrigger
	opts.FragmentationThreshold = *fragmentationThreshold
	opts.DeadBytesTrigger = *deadBytesTrigger
	opts.DeadBytesThreshold = *deadBytesThreshold
	opts.SmallFileThreshold = *smallFileThreshold
	opts.Logger = logging.NewDefaultLogger(level)

	switch *syncMode {
	case "always":
		opts.Sync = crabedb.SyncAlways
	case "never":
		opts.Sync = crabedb.SyncNever
	case "frequency":
		opts.Sync = crabedb.SyncFrequency
	default:
		fmt.Fprintf(os.Stderr, "invalid --sync value %q\n", *syncMode)
		os.Exit(1)
	}

	engine, err := crabedb.Open(dir, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store at %s: %v\n", dir, err)
		os.Exit(1)
	}
	defer engine.Close()

	lis, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen on %s: %v\n", *listenAddr, err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterKVServer(grpcServer, rpc.NewService(engine, opts.Logger))

	fmt.Printf("crabedb-server: serving %s on %s\n", dir, *listenAddr)
	if err := grpcServer.Serve(lis); err != nil {
		fmt.Fprintf(os.Stderr, "server exited: %v\n", err)
		os.Exit(1)
	}
}

func parseLogLevel(s string) (logging.Level, error) {
	switch s {
	case "error":
		return logging.LevelError, nil
	case "warn":
		return logging.LevelWarn, nil
	case "info":
		return logging.LevelInfo, nil
	case "debug":
		return logging.LevelDebug, nil
	default:
		return 0, fmt.Errorf("invalid --log-level value %q", s)
	}
}
