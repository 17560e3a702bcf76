package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

// runInfoCommand implements "chordhash info <host:port>": it queries a
// running peer for a NODE_INFO dump and prints it as indented JSON.
func runInfoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	timeout := fs.Duration("timeout", 3*time.Second, "RPC timeout")
	authToken := fs.String("auth-token", "", "shared secret the target peer requires, if any")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: chordhash info [-timeout DURATION] <host:port>")
		os.Exit(2)
	}

	host, portStr, err := net.SplitHostPort(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "chordhash: invalid peer address: %v\n", err)
		os.Exit(1)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chordhash: invalid peer port: %v\n", err)
		os.Exit(1)
	}

	peer := chordpeer.New(ringid.Zero(), ringid.Zero(), host, port)
	client := transport.NewClient(*timeout, *timeout)
	if *authToken != "" {
		client.SetAuthToken(*authToken)
	}

	var resp transport.NodeInfoResponse
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := client.SendRequest(ctx, peer, transport.CmdNodeInfo, struct{}{}, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "chordhash: node info request failed: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "chordhash: encoding response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
