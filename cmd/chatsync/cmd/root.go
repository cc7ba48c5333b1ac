package cmd

import (
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/roamio/chatsync/internal/auth"
	"github.com/roamio/chatsync/internal/config"
	"github.com/roamio/chatsync/internal/directory"
	"github.com/roamio/chatsync/internal/logging"
	"github.com/roamio/chatsync/internal/pubsub"
	"github.com/roamio/chatsync/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Chat synchronization client",
	Long: `chatsync connects to the messaging broker and keeps a live, reconciled
view of a chat room: messages, typing presence, and connection state.

Use "chatsync [command] --help" for more information about a command.`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildInjector wires the shared service graph for the subcommands.
func buildInjector() (do.Injector, error) {
	injector := do.New()

	do.Provide(injector, func(i do.Injector) (*config.Config, error) {
		return config.New()
	})
	do.Provide(injector, func(i do.Injector) (auth.TokenSource, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return auth.NewExpiryChecked(auth.NewStatic(cfg.Token)), nil
	})
	do.Provide(injector, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		return pubsub.NewWatermillBridge(), nil
	})
	do.Provide(injector, func(i do.Injector) (*directory.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return directory.NewClient(cfg.DirectoryURL, do.MustInvoke[auth.TokenSource](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*transport.Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return transport.NewManager(cfg.BrokerURL, do.MustInvoke[auth.TokenSource](i),
			transport.WithHeartbeat(cfg.HeartbeatInterval),
			transport.WithReconnectDelay(cfg.ReconnectDelay),
		), nil
	})

	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		return nil, err
	}
	logging.New(cfg.LogFormat, cfg.LogLevel)
	return injector, nil
}
