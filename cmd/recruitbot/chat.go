package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"recruitbot/internal/bus"
	"recruitbot/internal/chat"
	"recruitbot/internal/domain"
)

func chatCmd() *cobra.Command {
	var (
		conversationID string
		contextTag     string
		attachPath     string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat with the assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := requireOwner(cfg); err != nil {
				return err
			}
			tag, err := chat.ParseContextTag(contextTag)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			api, sc := newClients(cfg)
			events := bus.NewEventBus(logger)
			orch := chat.NewOrchestrator(chat.OrchestratorConfig{
				Conversations: api,
				Attachments:   api,
				Streamer:      sc,
				Resolver:      chat.StaticContext(tag),
				Events:        events,
				Logger:        logger,
				OwnerID:       cfg.Client.OwnerID,
				Language:      cfg.Client.Language,
				HistoryWindow: cfg.Client.HistoryWindow,
				TitleLength:   cfg.Client.TitleLength,
			})
			defer orch.Close()

			r := newREPL(replConfig{
				Orchestrator: orch,
				Events:       events,
				OwnerID:      cfg.Client.OwnerID,
				Logger:       logger,
			})
			if conversationID != "" {
				if err := r.open(ctx, conversationID); err != nil {
					return err
				}
			}
			if attachPath != "" {
				if err := r.attach(ctx, attachPath); err != nil {
					return err
				}
			}
			return r.run(ctx)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "open an existing conversation")
	cmd.Flags().StringVar(&contextTag, "context", "", "context for new messages: candidate:<id> or vacancy:<id>")
	cmd.Flags().StringVar(&attachPath, "attach", "", "file to attach to the first message")
	return cmd
}

// repl is the interactive terminal chat. Assistant text is rendered from
// stream events as it arrives.
type repl struct {
	orch    *chat.Orchestrator
	events  *bus.EventBus
	ownerID string
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	tty     bool

	tag domain.ContextTag // context for new messages, overrides --context

	replyStarted bool
	thinking     bool
	thinkMu      sync.Mutex
	thinkStop    chan struct{}
	thinkDone    chan struct{}
}

type replConfig struct {
	Orchestrator *chat.Orchestrator
	Events       *bus.EventBus
	OwnerID      string
	Logger       *slog.Logger
	In           io.Reader
	Out          io.Writer
}

func newREPL(cfg replConfig) *repl {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	tty := false
	if f, ok := cfg.Out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &repl{
		orch:    cfg.Orchestrator,
		events:  cfg.Events,
		ownerID: cfg.OwnerID,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		tty:     tty,
	}
}

const replHelp = `Commands:
  /new              start a new conversation
  /open <id>        open a conversation
  /list             list your conversations
  /attach <file>    attach a file to the next message
  /context <tag>    set context: candidate:<id>, vacancy:<id> or none
  /help             show this help
  /quit             exit`

// run reads lines until EOF, /quit or ctx cancellation.
func (r *repl) run(ctx context.Context) error {
	deltaSub := r.events.On(bus.EventStreamDelta, func(e bus.Event) {
		text, _ := e.Payload["text"].(string)
		if !r.replyStarted {
			r.stopThinking()
			r.replyStarted = true
			r.clearLine()
			fmt.Fprint(r.out, "recruitbot> ")
		}
		fmt.Fprint(r.out, text)
	})
	defer r.events.Off(bus.EventStreamDelta, deltaSub)

	fmt.Fprintln(r.out, "recruitbot chat. Type a message and press Enter, /help for commands.")
	r.prompt()

	scanner := bufio.NewScanner(r.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			r.prompt()
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			r.prompt()
			continue
		}

		r.send(ctx, line)
		r.prompt()
	}
}

func (r *repl) command(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit", "/q":
		r.logger.Debug("user requested quit")
		return true, nil
	case "/new":
		r.orch.SwitchConversation("")
		fmt.Fprintln(r.out, "Started a new conversation.")
	case "/open":
		if arg == "" {
			return false, errors.New("usage: /open <conversation id>")
		}
		return false, r.open(ctx, arg)
	case "/list":
		return false, r.list(ctx)
	case "/attach":
		if arg == "" {
			return false, errors.New("usage: /attach <file>")
		}
		return false, r.attach(ctx, arg)
	case "/context":
		tag, err := chat.ParseContextTag(arg)
		if err != nil {
			return false, err
		}
		r.tag = tag
		fmt.Fprintf(r.out, "Context set to %s.\n", tag)
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) {
	r.replyStarted = false
	r.startThinking()
	_, err := r.orch.Send(ctx, chat.SendInput{Text: text, Context: r.tag})
	r.stopThinking()
	if r.replyStarted {
		fmt.Fprintln(r.out)
	}

	var sendErr *chat.SendError
	switch {
	case err == nil:
	case errors.As(err, &sendErr):
		r.clearLine()
		fmt.Fprintf(r.out, "error: %s\n", sendErr.Message)
	case errors.Is(err, chat.ErrSwitched), errors.Is(err, context.Canceled):
		r.clearLine()
		fmt.Fprintln(r.out, "(reply cancelled)")
	default:
		r.clearLine()
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
}

func (r *repl) open(ctx context.Context, id string) error {
	if err := r.orch.OpenConversation(ctx, id); err != nil {
		return err
	}
	msgs := r.orch.Store().Messages()
	fmt.Fprintf(r.out, "Opened conversation %s (%d messages).\n", id, len(msgs))
	for _, m := range msgs {
		r.printMessage(m)
	}
	return nil
}

func (r *repl) list(ctx context.Context) error {
	convs, err := r.orch.Loader().ListConversations(ctx, r.ownerID)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(r.out, "No conversations yet.")
		return nil
	}
	active := r.orch.Store().ActiveConversation()
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTITLE\tCONTEXT\tUPDATED")
	for _, c := range convs {
		marker := ""
		if c.ID == active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, c.ID, c.Title, c.Context, humanize.Time(c.UpdatedAt))
	}
	return tw.Flush()
}

func (r *repl) attach(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	mediaType := mime.TypeByExtension(filepath.Ext(name))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	att, err := r.orch.Attach(ctx, name, mediaType, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Attached %s; it will be sent with your next message.\n", att.Name)
	return nil
}

func (r *repl) printMessage(m domain.Message) {
	who := "you"
	if m.Role == domain.RoleAssistant {
		who = "recruitbot"
	}
	fmt.Fprintf(r.out, "%s> %s", who, m.Content)
	if m.Attachment != nil {
		fmt.Fprintf(r.out, " [%s]", m.Attachment.Name)
	}
	fmt.Fprintln(r.out)
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, "you> ")
}

func (r *repl) clearLine() {
	if r.tty {
		fmt.Fprint(r.out, "\r\033[K")
	}
}

// startThinking animates a spinner until the first delta arrives. It only
// runs on a terminal.
func (r *repl) startThinking() {
	if !r.tty {
		return
	}
	r.thinkMu.Lock()
	defer r.thinkMu.Unlock()
	if r.thinking {
		return
	}
	r.thinking = true
	r.thinkStop = make(chan struct{})
	r.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(r.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(r.thinkStop, r.thinkDone)
}

func (r *repl) stopThinking() {
	r.thinkMu.Lock()
	defer r.thinkMu.Unlock()
	if !r.thinking {
		return
	}
	r.thinking = false
	close(r.thinkStop)
	<-r.thinkDone
	fmt.Fprint(r.out, "\r\033[K")
}
