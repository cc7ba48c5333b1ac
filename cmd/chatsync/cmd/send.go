package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/roamio/chatsync/internal/config"
	"github.com/roamio/chatsync/internal/directory"
	"github.com/roamio/chatsync/internal/domain"
	"github.com/roamio/chatsync/internal/pubsub"
	"github.com/roamio/chatsync/internal/session"
	"github.com/roamio/chatsync/internal/transport"
)

var (
	sendRoom    string
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [content]",
	Short: "Send one message to a room and wait for confirmation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendRoom, "room", "", "room id to send to")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "how long to wait for the server echo")
	sendCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	content := args[0]
	confirmed := make(chan domain.MessageStatus, 1)

	err = pubsub.SubscribeTyped(ctx, bus, session.EventState, func(ctx context.Context, snap session.Snapshot) error {
		for _, msg := range snap.Messages {
			if msg.SenderID != cfg.UserID || msg.Content != content {
				continue
			}
			if msg.Status == domain.StatusSent || msg.Status == domain.StatusFailed {
				select {
				case confirmed <- msg.Status:
				default:
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	sess := session.New(session.Config{LocalUserID: cfg.UserID}, conn, dir, dir, bus)
	if err := sess.Activate(ctx, domain.RoomSelector{RoomID: sendRoom}); err != nil {
		return err
	}
	defer sess.Close()

	// Give the connection a moment to come up, then send; the session fails
	// the attempt locally if the transport still isn't there.
	waitForConnected(ctx, sess)
	sess.Send(content)

	select {
	case status := <-confirmed:
		if status == domain.StatusFailed {
			return fmt.Errorf("message failed to send")
		}
		fmt.Println("sent")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no confirmation within %s", sendTimeout)
	}
}

func waitForConnected(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap := sess.Snapshot()
		if snap.Connection == domain.Connected {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
