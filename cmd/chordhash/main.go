package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chordhash/chordhash/internal/chord"
	"github.com/chordhash/chordhash/internal/chordpeer"
	"github.com/chordhash/chordhash/internal/config"
	"github.com/chordhash/chordhash/internal/dhash"
	"github.com/chordhash/chordhash/internal/kvstore"
	"github.com/chordhash/chordhash/internal/maintenance"
	"github.com/chordhash/chordhash/internal/ringevents"
	"github.com/chordhash/chordhash/internal/telemetry"
	"github.com/chordhash/chordhash/internal/transport"
	"github.com/chordhash/chordhash/pkg/ringid"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "info" {
		runInfoCommand(os.Args[2:])
		return
	}

	host := flag.String("host", "127.0.0.1", "host address to bind to")
	port := flag.Int("port", 8470, "port for the peer-to-peer RPC server")
	gateway := flag.String("gateway", "", "address (host:port) of an existing peer to join through; empty starts a new ring")
	numSuccessors := flag.Int("num-successors", 3, "successor-list capacity")
	stabilizeInterval := flag.Duration("stabilize-interval", 5*time.Second, "maintenance tick period")
	replicated := flag.Bool("replicated", false, "run the erasure-coded replicated store instead of the single-successor store")
	idaN := flag.Int("ida-n", 14, "total fragments per value (replicated mode)")
	idaM := flag.Int("ida-m", 10, "fragments required to reconstruct a value (replicated mode)")
	idaP := flag.Int64("ida-p", 257, "GF(p) prime modulus (replicated mode)")
	ringEventsAddr := flag.String("ring-events-addr", "", "address to serve the ring-events websocket feed on; empty disables it")
	logLevel := flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	logPretty := flag.Bool("log-pretty", false, "pretty-print console logs instead of JSON")
	authToken := flag.String("auth-token", "", "shared secret every peer RPC must carry; empty disables the check")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.Host = *host
	cfg.Port = *port
	cfg.GatewayAddr = *gateway
	cfg.NumSuccessors = *numSuccessors
	cfg.StabilizeInterval = *stabilizeInterval
	cfg.IDA_N, cfg.IDA_M, cfg.IDA_P = *idaN, *idaM, *idaP
	cfg.RingEventsAddr = *ringEventsAddr
	cfg.LogLevel = *logLevel
	cfg.LogConsole = true
	cfg.AuthToken = *authToken

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "chordhash: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := telemetry.Init(&telemetry.Config{
		Level: cfg.LogLevel, Console: cfg.LogConsole, ConsolePretty: *logPretty, EnableCaller: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "chordhash: failed to init logger: %v\n", err)
		os.Exit(1)
	}

	var hub *ringevents.Hub
	var events ringevents.Broadcaster
	if cfg.RingEventsAddr != "" {
		hub = ringevents.NewHub(log)
		go hub.Run()
		mux := http.NewServeMux()
		mux.HandleFunc("/events", hub.HandleWebSocket)
		go func() {
			if err := http.ListenAndServe(cfg.RingEventsAddr, mux); err != nil {
				log.Logger.Error().Err(err).Msg("ring-events server stopped")
			}
		}()
		events = hub
	}

	client := transport.NewClient(cfg.RPCTimeout, cfg.ConnectTimeout)
	srv := transport.NewServer(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), log)
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
		srv.SetAuthToken(cfg.AuthToken)
	}

	core := chord.New(cfg, client, log, events, nil)
	core.RegisterHandlers(srv)

	if *replicated {
		dh, err := dhash.New(core, client, cfg.IDA_N, cfg.IDA_M, cfg.IDA_P, cfg.NumSuccessors)
		if err != nil {
			log.Logger.Error().Err(err).Msg("failed to build replicated store")
			os.Exit(1)
		}
		core.SetPolicy(dh.Policy())
		dh.RegisterHandlers(srv)
		maintenance.Wire(core, dh)
	} else {
		kv := kvstore.New(core, client)
		core.SetPolicy(kv.Policy())
		kv.RegisterHandlers(srv)
	}

	go func() {
		if err := srv.Serve(); err != nil {
			log.Logger.Error().Err(err).Msg("rpc server stopped")
		}
	}()

	if cfg.GatewayAddr == "" {
		log.Logger.Info().Str("id", core.ID().Hex()).Msg("starting new ring")
		core.StartChord()
	} else {
		gatewayHost, gatewayPort, err := net.SplitHostPort(cfg.GatewayAddr)
		if err != nil {
			log.Logger.Error().Err(err).Msg("invalid gateway address")
			os.Exit(1)
		}
		portNum, err := strconv.Atoi(gatewayPort)
		if err != nil {
			log.Logger.Error().Err(err).Msg("invalid gateway port")
			os.Exit(1)
		}
		gatewayPeer := chordpeer.New(ringid.Zero(), ringid.Zero(), gatewayHost, portNum)

		log.Logger.Info().Str("gateway", cfg.GatewayAddr).Msg("joining existing ring")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RPCTimeout)
		err = core.Join(ctx, gatewayPeer)
		cancel()
		if err != nil {
			log.Logger.Error().Err(err).Msg("failed to join ring")
			os.Exit(1)
		}
		log.Logger.Info().Str("id", core.ID().Hex()).Msg("joined ring")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RPCTimeout)
	core.Leave(ctx)
	cancel()
	srv.Stop()
	if hub != nil {
		hub.Stop()
	}
}

