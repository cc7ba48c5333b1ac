package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roamio/chatsync/internal/config"
	"github.com/roamio/chatsync/internal/directory"
	"github.com/roamio/chatsync/internal/domain"
	"github.com/roamio/chatsync/internal/pubsub"
	"github.com/roamio/chatsync/internal/session"
	"github.com/roamio/chatsync/internal/transcript"
	"github.com/roamio/chatsync/internal/transport"
)

var (
	tailTrip       string
	tailPeer       string
	tailRoom       string
	tailTranscript string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow a chat room's live state",
	Long: `Resolves a room (by trip, peer, or room id), seeds its history, connects
to the broker, and prints messages, typing presence, and connection changes
as they happen. Ctrl-C deactivates the room and tears the session down.`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailTrip, "trip", "", "trip id to resolve a group room for")
	tailCmd.Flags().StringVar(&tailPeer, "peer", "", "peer id to resolve a direct room for")
	tailCmd.Flags().StringVar(&tailRoom, "room", "", "known room id")
	tailCmd.Flags().StringVar(&tailTranscript, "transcript", "", "append confirmed messages to this file")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	injector, err := buildInjector()
	if err != nil {
		return err
	}
	defer injector.Shutdown()

	cfg := do.MustInvoke[*config.Config](injector)
	bus := do.MustInvoke[*pubsub.WatermillBridge](injector)
	dir := do.MustInvoke[*directory.Client](injector)
	conn := do.MustInvoke[*transport.Manager](injector)
	defer bus.Close()

	var writer *transcript.Writer
	if tailTranscript != "" {
		writer, err = transcript.New(afero.NewOsFs(), tailTranscript)
		if err != nil {
			return err
		}
		defer writer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = pubsub.SubscribeTyped(ctx, bus, session.EventState, func(ctx context.Context, snap session.Snapshot) error {
		printSnapshot(snap)
		if writer != nil {
			return writer.Record(snap)
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = pubsub.SubscribeTyped(ctx, bus, session.EventAlert, func(ctx context.Context, alert session.Alert) error {
		fmt.Fprintf(os.Stderr, "!! [%s] %s\n", alert.Category, alert.UserMessage)
		return nil
	})
	if err != nil {
		return err
	}

	sess := session.New(session.Config{LocalUserID: cfg.UserID}, conn, dir, dir, bus)
	if err := sess.Activate(ctx, domain.RoomSelector{TripID: tailTrip, PeerID: tailPeer, RoomID: tailRoom}); err != nil {
		return err
	}
	defer sess.Close()

	<-ctx.Done()
	return nil
}

// printSnapshot renders the parts of a snapshot a terminal user cares about.
// Message lines print once per confirmed id; status lines print on change.
var printed = map[string]bool{}
var lastStatus string

func printSnapshot(snap session.Snapshot) {
	status := fmt.Sprintf("%s subscribed=%v", snap.Connection, snap.Subscribed)
	if snap.Degraded {
		status += " (connecting subscriptions)"
	}
	if status != lastStatus {
		fmt.Printf("-- %s\n", status)
		lastStatus = status
	}

	for _, msg := range snap.Messages {
		key := msg.ID
		if key == "" {
			key = msg.ClientTempID
		}
		if printed[key] {
			continue
		}
		printed[key] = true
		name := msg.SenderID
		if p, ok := snap.Room.Participant(msg.SenderID); ok {
			name = p.DisplayName
		}
		fmt.Printf("[%s] %s: %s (%s)\n", msg.SentAt.Format("15:04:05"), name, msg.Content, msg.Status)
	}

	if snap.TypingSummary != "" {
		fmt.Printf("   %s...\n", snap.TypingSummary)
	}
}
