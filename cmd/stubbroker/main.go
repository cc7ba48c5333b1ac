// Command stubbroker runs the in-process broker on a local port so chatsync
// can be exercised without the real backend. Tokens map to identities via
// STUB_USERS, e.g. "token1=u1:Ann,token2=u2:Ben".
package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/roamio/chatsync/internal/brokertest"
	"github.com/roamio/chatsync/internal/logging"
)

func main() {
	logging.New(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))

	broker := brokertest.New()
	for _, entry := range strings.Split(os.Getenv("STUB_USERS"), ",") {
		token, id, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		userID, name, ok := strings.Cut(id, ":")
		if !ok {
			name = userID
		}
		broker.SetUser(token, userID, name)
	}

	addr := os.Getenv("STUB_ADDR")
	if addr == "" {
		addr = ":8089"
	}

	slog.Info("stub broker listening", "addr", addr)
	if err := http.ListenAndServe(addr, broker.Handler()); err != nil {
		slog.Error("stub broker stopped", "error", err)
		os.Exit(1)
	}
}
