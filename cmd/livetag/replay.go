package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/recera/livetag/cmd/livetag/internal/config"
	"github.com/recera/livetag/pkg/dispatch"
	"github.com/recera/livetag/pkg/gesture"
	"github.com/recera/livetag/pkg/live"
	"github.com/recera/livetag/pkg/mapping"
	"github.com/spf13/cobra"
)

// step is one line of a replay script
type step struct {
	Op string `json:"op"`

	// screen
	ClassName string `json:"className,omitempty"`
	Title     string `json:"title,omitempty"`

	// gesture
	Kind      string          `json:"kind,omitempty"`
	Method    string          `json:"method,omitempty"`
	Direction string          `json:"direction,omitempty"`
	View      *gesture.View   `json:"view,omitempty"`
	Screen    *gesture.Screen `json:"screen,omitempty"`
	Delegate  string          `json:"delegate,omitempty"`
	Rename    string          `json:"rename,omitempty"`

	// custom
	Event string                 `json:"event,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`

	// wait
	Duration config.Duration `json:"duration,omitempty"`
}

func newReplayCommand(flags *globalFlags) *cobra.Command {
	var endpoint string
	var token string
	var offline bool

	cmd := &cobra.Command{
		Use:   "replay <script.jsonl>",
		Short: "Replay captured interactions through the tagging pipeline",
		Long: `Replay reads a JSON lines script of screen, gesture, custom and wait steps,
classifies each gesture with the configured rules and streams everything to
the live debugger.

  {"op":"screen","className":"LoginScreen","title":"Login"}
  {"op":"gesture","kind":"tap","method":"handleTap:","direction":"single",
   "view":{"className":"LoginButton","position":0},"delegate":"confirm","rename":"login"}
  {"op":"wait","duration":"600ms"}
  {"op":"custom","event":"purchase","data":{"amount":3}}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.Live.Endpoint = endpoint
			}
			if token != "" {
				cfg.Live.Token = token
			}
			if offline {
				disabled := false
				cfg.Live.Enabled = &disabled
			}

			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}

			script, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open script: %w", err)
			}
			defer script.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := runReplay(ctx, cfg, script, logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Debugger endpoint override")
	cmd.Flags().StringVar(&token, "token", "", "Pairing token override")
	cmd.Flags().BoolVar(&offline, "offline", false, "Classify and dispatch without a live connection")

	return cmd
}

// pipeline is the full tagging stack a replay drives
type pipeline struct {
	store      *mapping.Store
	channel    *live.Channel
	classifier *gesture.Classifier
	recorder   *dispatch.Recorder
	logger     *slog.Logger

	mu    sync.Mutex
	tasks []*gesture.Task
}

func newPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	if cfg.Live.Token == "" {
		cfg.Live.Token = uuid.NewString()
	}

	// Gestures wait for rules, so an unreadable file installs an empty set
	store := mapping.NewStore(mapping.Options{Logger: logger})
	if cfg.Rules.Path == "" {
		store.Set(&mapping.Document{})
	} else {
		if err := store.LoadFile(cfg.Rules.Path); err != nil {
			logger.Warn("no tagging rules loaded", "error", err)
			store.Set(&mapping.Document{})
		}
		if cfg.Rules.Watch {
			go func() {
				if err := store.Watch(ctx, cfg.Rules.Path); err != nil {
					logger.Warn("rules watch stopped", "error", err)
				}
			}()
		}
	}

	conn := live.NewConnectionManager(live.ConnOptions{
		Endpoint: cfg.Live.Endpoint,
		Token:    cfg.Live.Token,
		Enabled:  cfg.Live.IsEnabled,
		Logger:   logger,
	})

	host, _ := os.Hostname()
	channel, err := live.NewChannel(live.Options{
		Transport: conn,
		AppSnapshot: func() []byte {
			frame, _ := live.EncodeApp(live.AppInfo{
				Name:    "livetag-replay",
				Version: version,
				Device:  host,
				OS:      runtime.GOOS,
			})
			return frame
		},
		Beacon: func() []byte {
			frame, _ := live.EncodeBeacon(live.DeviceInfo{
				Name:    host,
				Model:   runtime.GOARCH,
				Token:   cfg.Live.Token,
				Version: version,
			})
			return frame
		},
		BeaconInterval: cfg.Live.BeaconInterval.Std(),
		RequirePairing: cfg.Live.RequirePairing,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	recorder := dispatch.NewRecorder()
	classifier, err := gesture.NewClassifier(gesture.Options{
		Configuration:   store,
		Dispatcher:      dispatch.Multi{dispatch.NewLogDispatcher(logger), recorder},
		Live:            channel,
		LiveTagging:     cfg.Live.IsEnabled(),
		AutoTracking:    cfg.Tracking.IsAutoTracking(),
		BackTrigger:     cfg.Tracking.BackTrigger,
		CaptureDelay:    cfg.Tracking.CaptureDelay.Std(),
		RaceWindow:      cfg.Tracking.RaceWindow.Std(),
		DelegateTimeout: cfg.Tracking.DelegateTimeout.Std(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Live.IsEnabled() {
		logger.Info("connecting to live debugger", "url", conn.URL())
		channel.Open()
	}

	return &pipeline{
		store:      store,
		channel:    channel,
		classifier: classifier,
		recorder:   recorder,
		logger:     logger,
	}, nil
}

// apply runs one script step
func (p *pipeline) apply(ctx context.Context, s step) error {
	switch strings.ToLower(s.Op) {
	case "screen":
		screen := &gesture.Screen{ClassName: s.ClassName, Title: s.Title}
		p.classifier.ScreenChanged(screen)
		return nil

	case "gesture":
		kind, err := gesture.ParseKind(s.Kind)
		if err != nil {
			return err
		}
		ev := gesture.Event{
			Kind:      kind,
			Method:    s.Method,
			Direction: s.Direction,
			View:      s.View,
			Screen:    s.Screen,
			Delegate:  scriptDelegate(s.Delegate, s.Rename),
		}
		task := p.classifier.Classify(ev)
		p.mu.Lock()
		p.tasks = append(p.tasks, task)
		p.mu.Unlock()
		return nil

	case "custom":
		frame, err := live.Encode(s.Event, s.Data)
		if err != nil {
			return err
		}
		p.channel.SendMessage(frame)
		return nil

	case "wait":
		timer := time.NewTimer(s.Duration.Std())
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

// scriptDelegate builds the host behaviour requested by a script step
func scriptDelegate(mode, rename string) gesture.Delegate {
	switch mode {
	case "confirm":
		return gesture.DelegateFunc(func(g *gesture.Gesture) {
			if rename != "" {
				g.SetName(rename)
			}
			g.MarkReady()
		})
	case "suppress":
		return gesture.DelegateFunc(func(g *gesture.Gesture) {
			g.Suppress()
			g.MarkReady()
		})
	case "silent":
		// Never confirms; the classifier times out
		return gesture.DelegateFunc(func(g *gesture.Gesture) {})
	default:
		return nil
	}
}

// drain waits for every classification to finish
func (p *pipeline) drain(ctx context.Context) map[gesture.State]int {
	p.mu.Lock()
	tasks := append([]*gesture.Task(nil), p.tasks...)
	p.mu.Unlock()

	counts := make(map[gesture.State]int)
	for _, task := range tasks {
		state, _ := task.Wait(ctx)
		counts[state]++
	}
	return counts
}

// flush gives a pending connection time to deliver the backlog
func (p *pipeline) flush(ctx context.Context, timeout time.Duration) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for p.channel.State() != live.Connected || p.channel.QueueLen() > 0 {
		select {
		case <-ticker.C:
		case <-deadline.C:
			p.logger.Warn("live backlog not delivered", "queued", p.channel.QueueLen())
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *pipeline) close() {
	p.classifier.Close()
	p.channel.Close()
}

func runReplay(ctx context.Context, cfg *config.Config, script io.Reader, logger *slog.Logger) (string, error) {
	p, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return "", err
	}
	defer p.close()

	scanner := bufio.NewScanner(script)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "//") {
			continue
		}

		var s step
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return "", fmt.Errorf("line %d: %w", line, err)
		}
		if err := p.apply(ctx, s); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return "", fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}

	counts := p.drain(ctx)
	if cfg.Live.IsEnabled() {
		p.flush(ctx, 2*time.Second)
	}
	return fmt.Sprintf("%d dispatched, %d dropped, %d cancelled, %d queued for live",
		counts[gesture.StateDispatched],
		counts[gesture.StateDropped],
		counts[gesture.StateCancelled],
		p.channel.QueueLen()), nil
}
