package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dwizi/rapport/internal/adminclient"
	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/config"
	"github.com/dwizi/rapport/internal/orchestrator"
)

type turnSender interface {
	Turn(ctx context.Context, request orchestrator.TurnRequest) (orchestrator.TurnResponse, error)
}

// streamSender adapts a websocket stream to turnSender.
type streamSender struct {
	stream *adminclient.TurnStream
}

func (s streamSender) Turn(ctx context.Context, request orchestrator.TurnRequest) (orchestrator.TurnResponse, error) {
	return s.stream.Send(ctx, request)
}

// chatSession carries the per-conversation state the server expects the
// caller to keep: history, timing and the probe awaiting an answer.
type chatSession struct {
	visitorID    string
	debug        bool
	history      []classifier.Turn
	sessionStart time.Time
	lastReply    time.Time
	pendingProbe string
	now          func() time.Time
}

func newChatSession(visitorID string, debug bool) *chatSession {
	return &chatSession{visitorID: visitorID, debug: debug, now: time.Now}
}

func (s *chatSession) request(message string) orchestrator.TurnRequest {
	now := s.now()
	if s.sessionStart.IsZero() {
		s.sessionStart = now
	}
	hour := now.Hour()
	request := orchestrator.TurnRequest{
		VisitorID:      s.visitorID,
		Message:        message,
		History:        append([]classifier.Turn(nil), s.history...),
		HourOfDay:      &hour,
		SessionStart:   s.sessionStart,
		PendingProbeID: s.pendingProbe,
		Debug:          s.debug,
	}
	if !s.lastReply.IsZero() {
		request.ResponseTimeMs = now.Sub(s.lastReply).Milliseconds()
	}
	return request
}

func (s *chatSession) record(message string, response orchestrator.TurnResponse) {
	if response.SessionEnded {
		s.history = nil
		s.sessionStart = time.Time{}
		s.lastReply = time.Time{}
		s.pendingProbe = ""
		return
	}
	s.history = append(s.history,
		classifier.Turn{Role: "user", Content: message},
		classifier.Turn{Role: "assistant", Content: response.Reply},
	)
	s.pendingProbe = response.ProbeID
	s.lastReply = s.now()
}

func (s *chatSession) send(ctx context.Context, sender turnSender, message string) (orchestrator.TurnResponse, error) {
	response, err := sender.Turn(ctx, s.request(message))
	if err != nil {
		return orchestrator.TurnResponse{}, err
	}
	s.record(message, response)
	return response, nil
}

func newChatCommand(logger *slog.Logger) *cobra.Command {
	_ = logger
	var (
		visitorID  string
		message    string
		timeoutSec int
		stream     bool
		pace       bool
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to rapport over the API",
		Long:  "Interactive channel to converse with rapport as a visitor, plus a transcript replay utility.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := adminclient.New(config.FromEnv())
			if err != nil {
				return err
			}

			text := strings.TrimSpace(message)
			if text == "" && len(args) > 0 {
				text = strings.TrimSpace(strings.Join(args, " "))
			}
			visitor := firstNonEmpty(visitorID, "cli-"+uuid.NewString())
			session := newChatSession(visitor, debug)

			var sender turnSender = client
			if stream {
				ctx, cancel := context.WithTimeout(commandContext(cmd), boundedTimeout(timeoutSec))
				socket, err := client.DialTurns(ctx)
				cancel()
				if err != nil {
					return err
				}
				defer socket.Close()
				sender = streamSender{stream: socket}
			}

			if text != "" {
				ctx, cancel := context.WithTimeout(commandContext(cmd), boundedTimeout(timeoutSec))
				defer cancel()
				response, err := session.send(ctx, sender, text)
				if err != nil {
					return err
				}
				if strings.TrimSpace(response.Reply) == "" {
					cmd.Println("(no reply)")
					return nil
				}
				cmd.Println(strings.TrimSpace(response.Reply))
				return nil
			}

			cmd.Printf("Connected as visitor %s. Type /exit to quit.\n", visitor)
			return runInteractiveChat(cmd, sender, session, chatOptions{TimeoutSec: timeoutSec, Pace: pace})
		},
	}
	cmd.Flags().StringVar(&visitorID, "visitor", "", "visitor id (defaults to a random cli id)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "single message to send (non-interactive mode)")
	cmd.Flags().IntVar(&timeoutSec, "timeout-sec", 120, "request timeout in seconds")
	cmd.Flags().BoolVar(&stream, "stream", false, "send turns over a websocket instead of one request per turn")
	cmd.Flags().BoolVar(&pace, "pace", false, "wait the suggested delay before printing each reply")
	cmd.Flags().BoolVar(&debug, "debug", false, "print classification and strategy for each turn")

	cmd.AddCommand(newChatReplayCommand(logger))
	return cmd
}

type chatOptions struct {
	TimeoutSec int
	Pace       bool
}

func runInteractiveChat(cmd *cobra.Command, sender turnSender, session *chatSession, opts chatOptions) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		cmd.Print("you> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/exit" || text == "/quit" {
			return nil
		}

		ctx, cancel := context.WithTimeout(commandContext(cmd), boundedTimeout(opts.TimeoutSec))
		response, err := session.send(ctx, sender, text)
		cancel()
		if err != nil {
			cmd.PrintErrf("turn request failed: %v\n", err)
			continue
		}
		if opts.Pace && response.DelayMs > 0 {
			time.Sleep(time.Duration(response.DelayMs) * time.Millisecond)
		}
		printAgentReply(cmd, strings.TrimSpace(response.Reply))
		printDebug(cmd, response.Debug)
		if response.SessionEnded {
			cmd.Println("(session ended)")
		}
	}

	return scanner.Err()
}

func printAgentReply(cmd *cobra.Command, reply string) {
	if reply == "" {
		cmd.Println("agent> (no reply)")
		return
	}
	lines := strings.Split(reply, "\n")
	for index, line := range lines {
		line = strings.TrimRight(line, "\r")
		if index == 0 {
			cmd.Printf("agent> %s\n", line)
			continue
		}
		cmd.Printf("      %s\n", line)
	}
}

func printDebug(cmd *cobra.Command, debug *orchestrator.Debug) {
	if debug == nil {
		return
	}
	cmd.Printf("      [%s %.2f via %s] length=%s tone=%s tokens=%d/%d\n",
		debug.Classification.UserType,
		debug.Classification.Confidence,
		debug.Classification.Source,
		debug.Strategy.Length,
		debug.Strategy.Tone,
		debug.Tokens.Total,
		debug.Tokens.Max,
	)
}

type transcriptTurn struct {
	User     string
	Previous string
}

func newChatReplayCommand(logger *slog.Logger) *cobra.Command {
	_ = logger
	var (
		filePath     string
		visitorID    string
		maxTurns     int
		delayMS      int
		dryRun       bool
		showExpected bool
		timeoutSec   int
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay visitor turns from a transcript through the runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(filePath) == "" {
				return fmt.Errorf("--file is required")
			}
			raw, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			turns := parseTranscript(string(raw))
			if len(turns) == 0 {
				return fmt.Errorf("no visitor turns found in %s", filePath)
			}
			if maxTurns > 0 && len(turns) > maxTurns {
				turns = turns[:maxTurns]
			}
			visitor := firstNonEmpty(visitorID, "replay-"+uuid.NewString())

			cmd.Printf("Replaying %d turn(s) as %s\n", len(turns), visitor)
			if dryRun {
				for index, turn := range turns {
					cmd.Printf("[%d] user: %s\n", index+1, compactLine(turn.User, 200))
					if showExpected {
						cmd.Printf("    expected: %s\n", compactLine(firstNonEmpty(turn.Previous, "(none)"), 200))
					}
				}
				return nil
			}

			client, err := adminclient.New(config.FromEnv())
			if err != nil {
				return err
			}
			result := replayTurns(cmd, client, turns, replayRequest{
				VisitorID:    visitor,
				Delay:        time.Duration(max(delayMS, 0)) * time.Millisecond,
				ShowExpected: showExpected,
				TimeoutSec:   timeoutSec,
			})
			cmd.Printf("Replay complete: sent=%d failures=%d total=%d\n", result.SentTurns, result.Failures, result.TotalTurns)
			if result.Failures > 0 {
				return fmt.Errorf("replay finished with %d failed turn(s)", result.Failures)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "path to a transcript of user:/assistant: lines")
	cmd.Flags().StringVar(&visitorID, "visitor", "", "visitor id (defaults to a random replay id)")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "max visitor turns to replay (0 means all)")
	cmd.Flags().IntVar(&delayMS, "delay-ms", 0, "delay between replayed turns")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print planned replay turns without sending")
	cmd.Flags().BoolVar(&showExpected, "show-expected", true, "print the transcript's reply next to the runtime reply")
	cmd.Flags().IntVar(&timeoutSec, "timeout-sec", 120, "request timeout in seconds")

	return cmd
}

type replayRequest struct {
	VisitorID    string
	Delay        time.Duration
	ShowExpected bool
	TimeoutSec   int
}

type replayResult struct {
	TotalTurns int
	SentTurns  int
	Failures   int
}

func replayTurns(cmd *cobra.Command, sender turnSender, turns []transcriptTurn, req replayRequest) replayResult {
	result := replayResult{TotalTurns: len(turns)}
	session := newChatSession(req.VisitorID, false)
	for index, turn := range turns {
		userText := strings.TrimSpace(turn.User)
		if userText == "" {
			continue
		}
		result.SentTurns++
		cmd.Printf("[%d] user: %s\n", index+1, compactLine(userText, 220))

		ctx, cancel := context.WithTimeout(commandContext(cmd), boundedTimeout(req.TimeoutSec))
		response, err := session.send(ctx, sender, userText)
		cancel()
		if err != nil {
			result.Failures++
			cmd.Printf("    error: %v\n", err)
			if req.Delay > 0 {
				time.Sleep(req.Delay)
			}
			continue
		}

		cmd.Printf("    agent: %s\n", compactLine(firstNonEmpty(response.Reply, "(no reply)"), 220))
		if req.ShowExpected {
			cmd.Printf("    prev:  %s\n", compactLine(firstNonEmpty(turn.Previous, "(none)"), 220))
		}
		if req.Delay > 0 {
			time.Sleep(req.Delay)
		}
	}
	return result
}

// parseTranscript reads "user:" and "assistant:" prefixed lines. Unprefixed
// lines continue the previous entry; blank lines and # comments are skipped.
// Each user line starts a turn and the first assistant reply after it is
// kept as the historical answer.
func parseTranscript(content string) []transcriptTurn {
	var (
		turns     []transcriptTurn
		appending *string
	)
	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		role, text, ok := splitTranscriptLine(line)
		if !ok {
			if appending != nil {
				*appending = strings.TrimSpace(*appending + "\n" + line)
			}
			continue
		}
		switch role {
		case "user":
			turns = append(turns, transcriptTurn{User: text})
			appending = &turns[len(turns)-1].User
		case "assistant":
			if len(turns) == 0 || turns[len(turns)-1].Previous != "" {
				appending = nil
				continue
			}
			turns[len(turns)-1].Previous = text
			appending = &turns[len(turns)-1].Previous
		}
	}
	return turns
}

func splitTranscriptLine(line string) (string, string, bool) {
	head, tail, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	switch strings.ToLower(strings.TrimSpace(head)) {
	case "user", "visitor", "you":
		return "user", strings.TrimSpace(tail), true
	case "assistant", "agent":
		return "assistant", strings.TrimSpace(tail), true
	}
	return "", "", false
}

func boundedTimeout(input int) time.Duration {
	if input < 1 {
		input = 120
	}
	if input > 600 {
		input = 600
	}
	return time.Duration(input) * time.Second
}

func compactLine(input string, maxLen int) string {
	line := strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
	if maxLen < 1 || len(line) <= maxLen {
		return line
	}
	return strings.TrimSpace(line[:maxLen]) + "..."
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
