package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/recera/livetag/cmd/livetag/internal/ui"
	"github.com/recera/livetag/pkg/live"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newListenCommand(flags *globalFlags) *cobra.Command {
	var addr string
	var path string
	var accept bool
	var plain bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run a live debugger that devices connect to",
		Long: `Listen accepts device websockets on <addr><path><token> and shows every
frame they send. Devices asking for live tagging can be accepted, stopped or
refused from the interactive view, or accepted automatically with --accept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			interactive := !plain && isatty()
			logOut := io.Writer(os.Stderr)
			if interactive {
				// The TUI owns the terminal
				logOut = io.Discard
			}
			logger, err := newLogger(cfg, logOut)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runListen(ctx, listenOptions{
				addr:        addr,
				path:        path,
				accept:      accept,
				interactive: interactive,
				out:         cmd.OutOrStdout(),
				logger:      logger,
			})
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:7070", "Address to listen on")
	cmd.Flags().StringVar(&path, "path", live.DefaultPath, "Route prefix; the device token follows it")
	cmd.Flags().BoolVar(&accept, "accept", false, "Accept every device that asks for live tagging")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print frames line by line instead of the interactive view")

	return cmd
}

type listenOptions struct {
	addr        string
	path        string
	accept      bool
	interactive bool
	out         io.Writer
	logger      *slog.Logger
}

// sessionControl answers pairing requests from the interactive view
type sessionControl struct {
	recv *live.Receiver
}

func (c sessionControl) Accept(token string) {
	if s, ok := c.recv.Session(token); ok {
		s.Accept()
	}
}

func (c sessionControl) Stop(token string) {
	if s, ok := c.recv.Session(token); ok {
		s.Stop()
	}
}

func (c sessionControl) Refuse(token string) {
	if s, ok := c.recv.Session(token); ok {
		s.Refuse()
	}
}

// frameSink receives frames and session notices from the receiver
type frameSink interface {
	frame(f ui.Frame)
	session(token string)
}

// plainSink prints one styled line per frame
type plainSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *plainSink) frame(f ui.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, ui.RenderFrame(f))
}

func (p *plainSink) session(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "device connected: %s\n", token)
}

// programSink forwards to the bubbletea program
type programSink struct {
	program *tea.Program
}

func (p programSink) frame(f ui.Frame)     { p.program.Send(f) }
func (p programSink) session(token string) { p.program.Send(ui.SessionMsg{Token: token}) }

func runListen(ctx context.Context, opts listenOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sink frameSink
	var program *tea.Program

	recvOpts := live.ReceiverOptions{
		Path:       opts.path,
		AutoAccept: opts.accept,
		Logger:     opts.logger,
		OnMessage: func(s *live.Session, msg live.Message, raw []byte) {
			sink.frame(ui.Frame{Session: s.ID, Event: msg.Event, Raw: raw, At: time.Now()})
		},
		OnSession: func(s *live.Session) {
			sink.session(s.ID)
		},
	}
	recv := live.NewReceiver(recvOpts)

	if opts.interactive {
		model := ui.NewModel(opts.addr+opts.path, sessionControl{recv: recv})
		program = tea.NewProgram(model, tea.WithAltScreen())
		sink = programSink{program: program}
	} else {
		sink = &plainSink{out: opts.out}
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(opts.path, recv)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("receiver stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		for _, s := range recv.Sessions() {
			s.Disconnect()
		}
		return srv.Shutdown(shutdownCtx)
	})

	if program != nil {
		g.Go(func() error {
			defer cancel()
			_, err := program.Run()
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			program.Quit()
			return nil
		})
	} else {
		opts.logger.Info("live receiver listening", "addr", ln.Addr().String(), "path", opts.path)
	}

	return g.Wait()
}

// isatty checks if we're running in a terminal
func isatty() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
