package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshikaxcx/emotibot/internal/chat"
	"github.com/vanshikaxcx/emotibot/internal/ipc"
	"github.com/vanshikaxcx/emotibot/internal/rag"
	"github.com/vanshikaxcx/emotibot/pkg/protocol"
)

var (
	socketPath string
	timeout    time.Duration
	wsURL      string
	sessionID  string
)

var rootCmd = &cobra.Command{
	Use:           "emotibot-ctl",
	Short:         "Control a running emotibot daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return call(cmd, ipc.ControlMessage{Cmd: "ping"}, func(data json.RawMessage) error {
			fmt.Fprintln(cmd.OutOrStdout(), "emotibot is running")
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return call(cmd, ipc.ControlMessage{Cmd: "stats"}, func(data json.RawMessage) error {
			var st rag.Stats
			if err := json.Unmarshal(data, &st); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "collection:      %s\n", st.Collection)
			fmt.Fprintf(w, "total items:     %d\n", st.Total)
			fmt.Fprintf(w, "document chunks: %d\n", st.DocumentChunks)
			fmt.Fprintf(w, "conversations:   %d\n", st.Conversations)
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored document and conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return call(cmd, ipc.ControlMessage{Cmd: "clear"}, func(json.RawMessage) error {
			fmt.Fprintln(cmd.OutOrStdout(), "memory cleared")
			return nil
		})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Add pdf, docx or txt files to memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, ipc.ControlMessage{Cmd: "ingest", Args: args}, func(data json.RawMessage) error {
			var res []rag.FileResult
			if err := json.Unmarshal(data, &res); err != nil {
				return err
			}
			failed := 0
			for _, r := range res {
				if r.Error != "" {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %s\n", r.Path, r.Error)
					continue
				}
				if r.Pages > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "ok    %s (%d chunks, %d pages, %d words)\n", r.Path, r.Chunks, r.Pages, r.Words)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "ok    %s (%d chunks, %d words)\n", r.Path, r.Chunks, r.Words)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(res))
			}
			return nil
		})
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <text>...",
	Short: "Speak text through the daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call(cmd, ipc.ControlMessage{Cmd: "say", Args: args}, nil)
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Record one spoken message and hear the reply",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return call(cmd, ipc.ControlMessage{Cmd: "listen"}, func(data json.RawMessage) error {
			var r chat.Reply
			if err := json.Unmarshal(data, &r); err != nil {
				return err
			}
			printReply(cmd.OutOrStdout(), r.Transcript, r.Response, r.Analysis.Dominant, r.Analysis.Confidence)
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the daemon over its websocket",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", ipc.DefaultSocket, "Control socket path")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "How long to wait for the daemon or a chat reply")
	chatCmd.Flags().StringVarP(&wsURL, "url", "u", "ws://localhost:8501/v1/ws", "Websocket URL of the daemon")
	chatCmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")

	rootCmd.AddCommand(pingCmd, statsCmd, clearCmd, ingestCmd, sayCmd, listenCmd, chatCmd)
}

func call(cmd *cobra.Command, msg ipc.ControlMessage, show func(json.RawMessage) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	reply, err := ipc.SendCommand(ctx, socketPath, msg)
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Cmd, err)
	}
	if show == nil {
		return nil
	}
	return show(reply.Data)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	url := wsURL
	if sessionID != "" {
		url += "?session_id=" + sessionID
	}
	c, err := protocol.Dial(ctx, url, 3, timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Type a message and press enter. Ctrl-D quits.")

	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			continue
		}

		f, err := c.Send(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, "error:", err)
			continue
		}

		var a struct {
			Dominant   string  `json:"dominant_emotion"`
			Confidence float64 `json:"confidence"`
		}
		_ = json.Unmarshal(f.Analysis, &a)
		printReply(out, "", f.Response, a.Dominant, a.Confidence)
	}
}

func printReply(w io.Writer, heard, response, emotion string, confidence float64) {
	if heard != "" {
		fmt.Fprintf(w, "you:      %s\n", heard)
	}
	if emotion != "" {
		fmt.Fprintf(w, "emotion:  %s (%.0f%%)\n", emotion, confidence*100)
	}
	fmt.Fprintf(w, "emotibot: %s\n", response)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "emotibot-ctl:", err)
		os.Exit(1)
	}
}
