package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/processor"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

func newTypesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the detected messaging types",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, _, err := opts.start(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			types := m.Detector.AvailableTypes()
			if len(types) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no messaging types available")
				return nil
			}
			for _, t := range types {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

type sendOptions struct {
	typ     string
	key     string
	mode    string
	headers map[string]string
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	so := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <topic[:tag]> <payload>",
		Short: "Send one message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := messaging.ParseMessagingType(so.typ)
			if err != nil {
				return err
			}
			switch so.mode {
			case "sync", "async", "oneway":
			default:
				return fmt.Errorf("unknown send mode %q: use sync, async or oneway", so.mode)
			}

			m, _, _, err := opts.start(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			msg := messaging.NewMessage(args[0], args[1])
			msg.MessageKey = so.key
			for k, v := range so.headers {
				msg.Headers[k] = v
			}
			return send(cmd, m.Template, t, so.mode, msg)
		},
	}
	cmd.Flags().StringVarP(&so.typ, "type", "t", "", "Messaging type; required when more than one is available")
	cmd.Flags().StringVarP(&so.key, "key", "k", "", "Message key")
	cmd.Flags().StringVarP(&so.mode, "mode", "m", "sync", "Send mode: sync, async or oneway")
	cmd.Flags().StringToStringVarP(&so.headers, "header", "H", nil, "Message header as key=value (repeatable)")
	return cmd
}

type sender interface {
	SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error)
	SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) (*template.Future, error)
	SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error
}

func send(cmd *cobra.Command, tpl *template.MessagingTemplate, t messaging.MessagingType, mode string, msg *messaging.UnifiedMessage) error {
	var s sender = tpl
	if t != messaging.Default {
		typed, err := tpl.ForType(t)
		if err != nil {
			return err
		}
		s = typed
	}

	ctx := cmd.Context()
	var (
		res *messaging.SendResult
		err error
	)
	switch mode {
	case "oneway":
		if err := s.SendOneWay(ctx, msg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s (one-way)\n", msg.Destination)
		return nil
	case "async":
		var f *template.Future
		if f, err = s.SendAsync(ctx, msg); err == nil {
			res, err = f.Get(ctx)
		}
	default:
		res, err = s.SendSync(ctx, msg)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %s id=%s partition=%d offset=%d\n",
		res.Destination, res.MessageID, res.PartitionOrQueue, res.Offset)
	return nil
}

func newListenCmd(opts *rootOptions) *cobra.Command {
	var (
		typ   string
		group string
	)
	cmd := &cobra.Command{
		Use:   "listen <topic[:tag]>...",
		Short: "Print messages received on one or more topics until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := messaging.ParseMessagingType(typ)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, _, logger, err := opts.start(ctx)
			if err != nil {
				return err
			}
			defer m.Close()

			out := &lockedWriter{w: cmd.OutOrStdout()}
			for _, topic := range args {
				err := m.Register(ctx, messaging.ListenerConfig{
					Name:    "mqctl-listen",
					Type:    t,
					Topic:   topic,
					GroupID: group,
					Handler: func(mctx *messaging.MessagingContext, payload []byte) {
						msg := mctx.Message
						fmt.Fprintf(out, "[%s] %s key=%q headers=%v %s\n", mctx.Type, msg.Destination, msg.MessageKey, msg.Headers, payload)
					},
				})
				if err != nil {
					return err
				}
			}

			logger.Info().Strs("topics", args).Msg("listening, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Messaging type; required when more than one is available")
	cmd.Flags().StringVarP(&group, "group", "g", "mqctl", "Consumer group")
	return cmd
}

// lockedWriter serialises writes from concurrent consumer goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-send stored failed messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, settings, logger, err := opts.start(ctx)
			if err != nil {
				return err
			}
			defer m.Close()
			if m.Store == nil {
				return errors.New("replay needs a failed-message store: set store.type")
			}

			p := processor.NewReplayProcessor(m.Store, m.Template, settings.Replay, logger)
			if follow {
				if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			res, err := p.ProcessBatch(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed=%d retried=%d failed=%d\n", res.Replayed, res.Retried, res.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep replaying every replay.poll_interval until interrupted")
	return cmd
}
