// Command crabedb-client issues a single get, set, or remove RPC against a
// running crabedb-server.
//
// Usage:
//
//	crabedb-client [flags] get <key>
//	crabedb-client [flags] set <key> <value>
//	crabedb-client [flags] remove <key>
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/gabrielmougard/crabedb/rpc"
)

func main() {
	addr := pflag.String("addr", "localhost:9090", "server host:port")
	timeout := pflag.Duration("timeout", 5*time.Second, "RPC timeout")
	pflag.Parse()

	args := pflag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}
	command, key := args[0], args[1]

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	client := rpc.NewKVClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch command {
	case "get":
		resp, err := client.Get(ctx, &rpc.GetRequest{Key: key})
		if err != nil {
			fail(err)
		}
		if !resp.Exist {
			fmt.Println("(not found)")
			os.Exit(1)
		}
		fmt.Println(resp.Value)

	case "set":
		if len(args) < 3 {
			usage()
			os.Exit(1)
		}
		resp, err := client.Set(ctx, &rpc.SetRequest{Key: key, Value: args[2]})
		if err != nil {
			fail(err)
		}
		if !resp.Success {
			os.Exit(1)
		}

	case "remove":
		resp, err := client.Remove(ctx, &rpc.RemoveRequest{Key: key})
		if err != nil {
			fail(err)
		}
		if !resp.Success {
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: crabedb-client [flags] get|set|remove <key> [value]")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "rpc failed: %v\n", err)
	os.Exit(1)
}
