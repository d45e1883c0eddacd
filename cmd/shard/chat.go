package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/shard/capture"
	"github.com/sweetpotato0/shard/config"
	"github.com/sweetpotato0/shard/engine"
	"github.com/sweetpotato0/shard/event"
	"github.com/sweetpotato0/shard/gateway"
	"github.com/sweetpotato0/shard/message"
	"github.com/sweetpotato0/shard/pkg/logging"
)

const chatHelp = `commands:
  /cancel             stop the current reply
  /model [id]         show or switch the model
  /search on|off      toggle web lookups
  /image <path>       attach an image to the next message
  /history            list stored generations
  /forget <key>       delete a stored generation
  /quit               leave`

func newChatCmd(current func() *config.Config) *cobra.Command {
	var (
		model    string
		noSearch bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := current()
			a, err := build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			r := &repl{
				app:    a,
				out:    cmd.OutOrStdout(),
				model:  cfg.Model.Default,
				search: cfg.Model.WebSearch && !noSearch,
				done:   make(chan event.Event, 4),
			}
			if model != "" {
				r.model = model
			}
			return r.run(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id, see the models command")
	cmd.Flags().BoolVar(&noSearch, "no-search", false, "disable web lookups")
	return cmd
}

type repl struct {
	app     *app
	out     io.Writer
	mu      sync.Mutex
	model   string
	search  bool
	history []*message.Message
	image   *capture.Capture
	done    chan event.Event
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	unsubscribe := r.app.bus.Subscribe(event.Filter(r.app.engine.Current, r.print))
	defer unsubscribe()
	defer r.dropImage()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprintf(r.out, "model %s, web search %s. /help for commands.\n", r.model, onOff(r.search))
	for {
		fmt.Fprint(r.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, "error:", err)
			}
			if quit {
				return nil
			}
			continue
		}
		r.turn(ctx, line, interrupts)
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/cancel":
		if id := r.app.engine.CancelCurrentGeneration(); id != 0 {
			fmt.Fprintf(r.out, "cancelled #%d\n", id)
		}
	case "/model":
		if arg == "" {
			for _, m := range gateway.Catalog {
				marker := " "
				if m.ID == r.model {
					marker = "*"
				}
				fmt.Fprintf(r.out, "%s %-50s %s\n", marker, m.ID, m.Name)
			}
			return false, nil
		}
		if _, ok := gateway.LookupModel(arg); !ok {
			return false, fmt.Errorf("unknown model %q", arg)
		}
		r.model = arg
		fmt.Fprintln(r.out, "model", r.model)
	case "/search":
		switch arg {
		case "on":
			r.search = true
		case "off":
			r.search = false
		case "":
		default:
			return false, fmt.Errorf("usage: /search on|off")
		}
		fmt.Fprintln(r.out, "web search", onOff(r.search))
	case "/image":
		if arg == "" {
			return false, fmt.Errorf("usage: /image <path>")
		}
		var opts []capture.Option
		if r.app.recognizer != nil {
			opts = append(opts, capture.WithRecognizer(r.app.recognizer))
		}
		c, err := capture.NewFileSource(arg, opts...).Capture(ctx)
		if err != nil {
			return false, err
		}
		r.dropImage()
		r.image = c
		fmt.Fprintf(r.out, "attached %s (%d bytes)\n", c.MIMEType, len(c.Image))
	case "/history":
		records, err := r.app.engine.Sessions().History(ctx)
		if err != nil {
			return false, err
		}
		count, err := r.app.engine.Sessions().HistoryCount(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%d stored\n", count)
		for _, rec := range records {
			fmt.Fprintf(r.out, "%s %-10s %s %q\n", rec.Key, rec.State, rec.Model, clip(rec.Text, 60))
		}
	case "/forget":
		if arg == "" {
			return false, fmt.Errorf("usage: /forget <key>")
		}
		if err := r.app.engine.Sessions().Forget(ctx, arg); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "forgot", arg)
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
	return false, nil
}

// turn submits one user message and blocks until it ends or is interrupted.
func (r *repl) turn(ctx context.Context, text string, interrupts <-chan os.Signal) {
	msg := message.NewMessage(message.RoleUser, text)
	if r.image != nil {
		msg = r.image.Message(text)
		r.dropImage()
	}
	r.history = append(r.history, msg)

	id := r.app.engine.SubmitTurn(ctx, engine.TurnRequest{
		Messages:  r.history,
		Model:     r.model,
		WebSearch: r.search,
	})
	for {
		select {
		case <-ctx.Done():
			r.app.engine.CancelCurrentGeneration()
			return
		case <-interrupts:
			r.app.engine.CancelCurrentGeneration()
			fmt.Fprintln(r.out, "\n[interrupted]")
			r.history = r.history[:len(r.history)-1]
			return
		case ev := <-r.done:
			if ev.ID != id {
				continue
			}
			if ev.End != nil {
				r.history = append(r.history, message.NewMessage(message.RoleAssistant, ev.End.FullText))
			} else {
				r.history = r.history[:len(r.history)-1]
			}
			return
		}
	}
}

// print renders events as they stream. It runs inside Emit and must not block.
func (r *repl) print(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Kind {
	case event.KindChunk:
		if ev.Chunk.ReasoningDelta != "" {
			fmt.Fprintf(r.out, "\x1b[2m%s\x1b[0m", ev.Chunk.ReasoningDelta)
		}
		fmt.Fprint(r.out, ev.Chunk.TextDelta)
	case event.KindToolStarted:
		fmt.Fprintf(r.out, "[%s: %s]\n", ev.ToolStarted.Tool, ev.ToolStarted.Query)
	case event.KindToolCompleted:
		tc := ev.ToolCompleted
		switch {
		case !tc.Success:
			fmt.Fprintf(r.out, "[%s failed: %s]\n", tc.Tool, tc.Error)
		case tc.ResultSummary == nil:
			fmt.Fprintf(r.out, "[%s: no results]\n", tc.Tool)
		default:
			for _, s := range tc.Sources {
				fmt.Fprintf(r.out, "[source: %s %s]\n", s.Name, s.URL)
			}
		}
	case event.KindGenerationEnd:
		fmt.Fprintln(r.out)
	case event.KindGenerationError:
		fmt.Fprintf(r.out, "\nerror: %s\n", ev.Error.Message)
	}
	if ev.Terminal() {
		select {
		case r.done <- ev:
		default:
			logging.WithComponent("chat").Warn("dropped terminal event", "id", ev.ID)
		}
	}
}

func (r *repl) dropImage() {
	if r.image == nil {
		return
	}
	if err := r.image.Cleanup(); err != nil {
		logging.WithComponent("chat").Warn("capture cleanup failed", "error", err)
	}
	r.image = nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
