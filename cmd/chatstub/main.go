// chatstub runs the in-memory development backend: HTTP login plus the
// WebSocket snapshot stream, everything lost on exit.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"chatterm/internal/remote/stub"
)

func main() {
	addrFlag := flag.String("addr", ":8787", "listen address")
	keyFlag := flag.String("conversation", "global", "conversation key to serve")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	srv := stub.New(*keyFlag, logger)
	logger.Info("chatstub listening",
		zap.String("addr", *addrFlag),
		zap.String("conversation", *keyFlag))

	if err := http.ListenAndServe(*addrFlag, srv.Handler()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
