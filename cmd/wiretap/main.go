// wiretap connects to a single endpoint and streams everything the
// connection publishes to the console. Useful for eyeballing an endpoint
// before adding it to a wirepoold config.
//
// Usage: go run ./cmd/wiretap --url wss://example.com/feed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fieldline/wirepool/internal/client"
	"github.com/fieldline/wirepool/internal/transport"
)

type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header must be key:value, got %q", v)
	}
	*h = append(*h, v)
	return nil
}

func main() {
	url := flag.String("url", "", "endpoint URL (required)")
	verbose := flag.Bool("verbose", false, "print full message payloads")
	var headers headerFlags
	flag.Var(&headers, "header", "request header as key:value (repeatable)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *url == "" {
		logger.Error("--url is required")
		os.Exit(1)
	}

	header := make(http.Header)
	for _, h := range headers {
		k, v, _ := strings.Cut(h, ":")
		header.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := transport.NewWebSocket(transport.DefaultWebSocketConfig(), logger)
	c, err := client.New(*url, client.DefaultConfig(),
		client.WithHeader(header),
		client.WithTransport(tr),
		client.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer c.Dispose()

	states := c.SubscribeStates()
	messages := c.SubscribeMessages()
	events := c.SubscribeEvents()
	errs := c.SubscribeErrors()

	go func() {
		for s := range states.C {
			fmt.Printf("[STATE] %s\n", s)
		}
	}()
	go func() {
		for msg := range messages.C {
			if !*verbose {
				continue
			}
			switch msg.Kind {
			case transport.KindText:
				fmt.Printf("[RAW] %s\n", msg.Text)
			case transport.KindBinary:
				fmt.Printf("[RAW] %d binary bytes\n", len(msg.Binary))
			}
		}
	}()
	go func() {
		for evt := range events.C {
			if *verbose {
				data, _ := json.MarshalIndent(evt, "", "  ")
				fmt.Printf("[EVENT] %s\n", data)
			} else {
				fmt.Printf("[EVENT] type=%s ts=%s bytes=%d\n",
					evt.Type, evt.Timestamp.Format(time.RFC3339), len(evt.Data))
			}
		}
	}()
	go func() {
		for err := range errs.C {
			fmt.Printf("[ERROR] %v\n", err)
		}
	}()

	if err := c.Connect(ctx); err != nil {
		logger.Error("initial connect failed", "error", err)
	}

	logger.Info("streaming started - press Ctrl+C to stop", "url", *url)

	<-ctx.Done()

	logger.Info("shutting down...")
	c.Dispose()
	logger.Info("shutdown complete")
}
