package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-messaging/pkg/bootstrap"
	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

type noCapabilities struct{}

func (noCapabilities) HasCapability(string) bool { return false }

// withEmptyEnvironment runs commands against a messaging layer with no broker linked.
func withEmptyEnvironment(t *testing.T) {
	t.Helper()
	origLoad, origStart := loadSettings, startMessaging
	t.Cleanup(func() { loadSettings, startMessaging = origLoad, origStart })

	loadSettings = func(string) (*config.Settings, error) {
		return &config.Settings{Logging: config.LoggingSettings{Level: "disabled"}}, nil
	}
	startMessaging = func(ctx context.Context, settings *config.Settings, logger zerolog.Logger) (*bootstrap.Messaging, error) {
		return bootstrap.New(ctx, settings, logger, bootstrap.WithCapabilityChecker(noCapabilities{}))
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTypesWithoutBrokers(t *testing.T) {
	withEmptyEnvironment(t)

	out, err := execute(t, "types")
	require.NoError(t, err)
	assert.Equal(t, "no messaging types available\n", out)
}

func TestSendArgumentErrors(t *testing.T) {
	withEmptyEnvironment(t)

	tests := []struct {
		name   string
		args   []string
		target error
		msg    string
	}{
		{
			name: "invalid mode",
			args: []string{"send", "orders", "{}", "--mode", "fire-and-forget"},
			msg:  `unknown send mode "fire-and-forget"`,
		},
		{
			name:   "unknown type",
			args:   []string{"send", "orders", "{}", "--type", "nats"},
			target: messaging.ErrUnknownType,
		},
		{
			name:   "no broker available",
			args:   []string{"send", "orders:vip", "{}"},
			target: messaging.ErrNoTypeAvailable,
		},
		{
			name:   "requested type not linked",
			args:   []string{"send", "orders", "{}", "--type", "kafka"},
			target: messaging.ErrTypeUnavailable,
		},
		{
			name: "missing payload",
			args: []string{"send", "orders"},
			msg:  "accepts 2 arg(s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestReplayRequiresStore(t *testing.T) {
	withEmptyEnvironment(t)

	_, err := execute(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed-message store")
}

func TestSettingsErrorIsReturned(t *testing.T) {
	withEmptyEnvironment(t)
	loadSettings = func(string) (*config.Settings, error) {
		return nil, errors.New("messaging.yaml not found")
	}

	_, err := execute(t, "types", "--config", "/nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messaging.yaml not found")
}

type stubAdapter struct {
	sent []*messaging.UnifiedMessage
	mode []string
}

func (a *stubAdapter) Type() messaging.MessagingType { return messaging.RedisStream }

func (a *stubAdapter) SendSync(_ context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	a.sent = append(a.sent, msg)
	a.mode = append(a.mode, "sync")
	return &messaging.SendResult{Destination: msg.Destination, PartitionOrQueue: messaging.NotApplicable, Offset: messaging.NotApplicable, MessageID: "1-0"}, nil
}

func (a *stubAdapter) SendAsync(_ context.Context, msg *messaging.UnifiedMessage) *template.Future {
	a.sent = append(a.sent, msg)
	a.mode = append(a.mode, "async")
	return template.CompletedFuture(&messaging.SendResult{Destination: msg.Destination, PartitionOrQueue: 2, Offset: 7, MessageID: "2-0"}, nil)
}

func (a *stubAdapter) SendOneWay(_ context.Context, msg *messaging.UnifiedMessage) error {
	a.sent = append(a.sent, msg)
	a.mode = append(a.mode, "oneway")
	return nil
}

func (a *stubAdapter) Close() error { return nil }

func TestSendModes(t *testing.T) {
	tests := []struct {
		mode string
		typ  messaging.MessagingType
		want string
	}{
		{mode: "sync", typ: messaging.Default, want: "sent orders:vip id=1-0 partition=-1 offset=-1\n"},
		{mode: "async", typ: messaging.RedisStream, want: "sent orders:vip id=2-0 partition=2 offset=7\n"},
		{mode: "oneway", typ: messaging.Default, want: "sent orders:vip (one-way)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			adapter := &stubAdapter{}
			cmd := newSendCmd(&rootOptions{})
			out := &bytes.Buffer{}
			cmd.SetOut(out)
			cmd.SetContext(context.Background())

			msg := messaging.NewMessage("orders:vip", "{}")
			err := send(cmd, template.New(adapter), tt.typ, tt.mode, msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
			assert.Equal(t, []string{tt.mode}, adapter.mode)
			assert.Same(t, msg, adapter.sent[0])
		})
	}
}

func TestSendForUnregisteredType(t *testing.T) {
	cmd := newSendCmd(&rootOptions{})
	cmd.SetContext(context.Background())

	err := send(cmd, template.New(&stubAdapter{}), messaging.Kafka, "sync", messaging.NewMessage("orders", "{}"))
	assert.ErrorIs(t, err, messaging.ErrTypeUnavailable)
}

func TestLockedWriterKeepsLinesWhole(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &lockedWriter{w: buf}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				fmt.Fprintf(out, "[KAFKA] orders-%d key=%q payload-%d\n", i, "k", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 400)
	for _, line := range lines {
		assert.Regexp(t, `^\[KAFKA\] orders-\d key="k" payload-\d+$`, line)
	}
}
