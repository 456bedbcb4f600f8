// Command artnetd is a reference integrator for the artnet package:
// it loads identity/timing configuration, adopts the configured
// ports, and serves a read-only HTTP status surface over the
// discovered nodes and universes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gopatchy/goartnet"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file (optional)")
	iface := flag.String("interface", "", "network interface to bind (overrides auto-ranking)")
	inputPorts := flag.String("input", "", "comma-separated port addresses (N:S:U) to publish into")
	outputPorts := flag.String("output", "", "comma-separated port addresses (N:S:U) to subscribe to")
	apiListen := flag.String("api-listen", ":8080", "HTTP status API listen address (empty to disable)")
	passive := flag.Bool("passive", false, "capture off the wire via pcap instead of binding UDP 6454; implies monitoring all universes, not just locally-adopted ones")
	strict := flag.Bool("strict", false, "reject unknown OpCodes as BadOpCode instead of ignoring them")
	debug := flag.Bool("debug", false, "log decoded/dropped packet counters every 10s")
	flag.Parse()

	cfg := artnet.DefaultConfig()
	if *configPath != "" {
		loaded, err := artnet.LoadConfigTOML(*configPath)
		if err != nil {
			log.Fatalf("config error: %v", err)
		}
		cfg = loaded
	}
	if *iface != "" {
		cfg.Interface = *iface
	}
	if *passive {
		cfg.Passive = true
	}
	if *strict {
		cfg.StrictDecode = true
	}

	client, err := artnet.NewClient(cfg)
	if err != nil {
		log.Fatalf("client error: %v", err)
	}

	for _, addr := range splitNonEmpty(*inputPorts) {
		if _, err := client.SetPortConfig(addr, true, false); err != nil {
			log.Fatalf("input port error: addr=%q err=%v", addr, err)
		}
		log.Printf("[config] input port=%s", addr)
	}
	for _, addr := range splitNonEmpty(*outputPorts) {
		if _, err := client.SetPortConfig(addr, false, true); err != nil {
			log.Fatalf("output port error: addr=%q err=%v", addr, err)
		}
		log.Printf("[config] output port=%s", addr)
	}

	if *apiListen != "" {
		go serveStatusAPI(*apiListen, client)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			printStats(client, *debug)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[main] shutting down")
		client.Close()
		cancel()
	}()

	if err := client.Connect(ctx); err != nil && err != context.Canceled {
		log.Fatalf("connect error: %v", err)
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printStats(client *artnet.Client, debug bool) {
	if !debug {
		return
	}
	s := client.Stats()
	log.Printf("[stats] decoded poll=%d pollreply=%d dmx=%d unknown=%d dropped magic=%d opcode=%d truncated=%d range=%d seq=%d",
		s.DecodedPoll, s.DecodedPollReply, s.DecodedDMX, s.DecodedUnknown,
		s.DroppedBadMagic, s.DroppedBadOpCode, s.DroppedTruncatedFrame,
		s.DroppedFieldOutOfRange, s.DroppedSequence)
}

func serveStatusAPI(addr string, client *artnet.Client) {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Server", "artnetd")
		json.NewEncoder(w).Encode(client.ListNodes())
	})
	mux.HandleFunc("/universes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Server", "artnetd")
		json.NewEncoder(w).Encode(client.ListUniverses())
	})

	server := &http.Server{Addr: addr, Handler: mux}
	log.Printf("[api] listening addr=%s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("[api] server error: %v", err)
	}
}

func init() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
}
