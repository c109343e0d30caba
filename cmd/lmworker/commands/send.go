package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lm-plugin/worker/internal/channel"
	"github.com/lm-plugin/worker/pkg/types"
)

var (
	sendURL     string
	sendPrompt  string
	sendTimeout time.Duration
	sendJSON    bool
	sendNoColor bool
	sendVerbose bool
)

var sendCmd = &cobra.Command{
	Use:   "send <state|clear|content|tab|ask> [text]",
	Short: "Send one command to a running worker",
	Long: `Send one command to a running worker over its websocket port and print
the session once the worker is done with it.

  lmworker send content "Text to summarise"
  lmworker send tab https://example.com/article --prompt Explain
  lmworker send ask "What about the second point?"
  lmworker send state
  lmworker send clear`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendURL, "url", "", "Worker port URL (default ws://<host>:<port>/port from config)")
	sendCmd.Flags().StringVar(&sendPrompt, "prompt", "", "Prompt name for content and tab")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Minute, "How long to wait for the reply")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Print JSON lines")
	sendCmd.Flags().BoolVar(&sendNoColor, "no-color", false, "Disable colors")
	sendCmd.Flags().BoolVarP(&sendVerbose, "verbose", "v", false, "Print progress")
}

// buildCommand maps the CLI arguments to a command envelope.
func buildCommand(args []string, prompt string) (types.Command, error) {
	text := strings.TrimSpace(strings.Join(args[1:], " "))
	needText := func() error {
		if text == "" {
			return fmt.Errorf("%s needs an argument", args[0])
		}
		return nil
	}

	switch args[0] {
	case "state":
		return types.GetState(), nil
	case "clear":
		return types.ClearChat(), nil
	case "content":
		if err := needText(); err != nil {
			return types.Command{}, err
		}
		return types.SummariseContent(text, prompt), nil
	case "tab":
		if err := needText(); err != nil {
			return types.Command{}, err
		}
		return types.SummariseTab(text, prompt), nil
	case "ask":
		if err := needText(); err != nil {
			return types.Command{}, err
		}
		return types.AskQuestion(text), nil
	default:
		return types.Command{}, fmt.Errorf("unknown command %q", args[0])
	}
}

// waitsForReply reports whether cmd starts a request.
func waitsForReply(cmd types.Command) bool {
	switch cmd.Type {
	case types.CommandSummariseContent, types.CommandSummariseTab, types.CommandAskQuestion:
		return true
	}
	return false
}

func runSend(cmd *cobra.Command, args []string) error {
	command, err := buildCommand(args, sendPrompt)
	if err != nil {
		return err
	}

	url := sendURL
	if url == "" {
		source, err := loadSource()
		if err != nil {
			return err
		}
		srv := source.Config().Server
		url = fmt.Sprintf("ws://%s:%d/port", srv.Host, srv.Port)
	}
	initLogging("WARN", false)

	r := newRenderer(sendNoColor, sendJSON, sendVerbose)
	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	client := channel.New(&channel.WebSocketDialer{URL: url})
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	defer func() {
		client.Close()
		<-done
	}()

	client.Submit(command)
	r.Trace("sent %s", command.Type)

	wait := waitsForReply(command)
	if command.Type == types.CommandClearChat {
		// A reset of an empty session publishes nothing.
		client.Submit(types.GetState())
	}
	started := false
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no reply from %s: %w", url, ctx.Err())
		case err := <-done:
			done <- err
			if err == nil || errors.Is(err, channel.ErrClosed) {
				return errors.New("worker closed the connection")
			}
			return err
		case n := <-client.Notifications():
			switch n.Type {
			case types.NotificationError:
				r.Error(n.Message())
				return errors.New("request failed")
			case types.NotificationComplete:
				return errors.New("worker is shutting down")
			case types.NotificationState:
				s, err := n.State()
				if err != nil {
					return err
				}
				r.Trace("state %s, %d chat entries", s.Lifecycle, len(s.ChatMessages))
				if s.Lifecycle != types.LifecycleReady {
					started = true
					continue
				}
				if wait && !started {
					continue
				}
				if settled(s) {
					r.Session(s)
					return nil
				}
			}
		}
	}
}

// settled reports whether every chat entry has been rendered.
func settled(s types.SessionState) bool {
	for _, m := range s.ChatMessages {
		if m.Status != types.ChatFinishedAndRendered {
			return false
		}
	}
	return true
}
