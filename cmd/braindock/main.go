package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/braindock/braindock/internal/agents"
	"github.com/braindock/braindock/internal/checkpoint"
	"github.com/braindock/braindock/internal/config"
	"github.com/braindock/braindock/internal/events"
	"github.com/braindock/braindock/internal/executor"
	"github.com/braindock/braindock/internal/pipeline"
	"github.com/braindock/braindock/internal/server"
	"github.com/braindock/braindock/internal/session"
	"github.com/braindock/braindock/internal/skillbank"
	"github.com/braindock/braindock/internal/tui"
)

func main() {
	var (
		serve    = flag.Bool("serve", false, "run the HTTP API without the terminal dashboard")
		port     = flag.Int("port", 0, "HTTP API port (overrides config)")
		output   = flag.String("output", "", "output root for checkpoints and projects (overrides config)")
		title    = flag.String("title", "", "project title to start a new run")
		problem  = flag.String("problem", "", "problem statement for a new run")
		resume   = flag.String("resume", "", "slug of a checkpointed run to resume")
		planOnly = flag.Bool("plan-only", false, "skip execution, produce plans only")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		cfg.OutputRoot = *output
	}
	if *port != 0 {
		cfg.ServerPort = *port
	}
	if *planOnly {
		cfg.SkipExecution = true
	}

	if err := run(ctx, cfg, *serve, *title, *problem, *resume); err != nil &&
		!errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.RunConfig, serve bool, title, problem, resume string) error {
	pm := agents.NewProcessManager()
	defer func() {
		if err := pm.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}
	}()

	store, err := checkpoint.NewStore(cfg.OutputRoot)
	if err != nil {
		return err
	}

	skills, err := skillbank.NewStore(ctx, filepath.Join(cfg.OutputRoot, "skills.db"))
	if err != nil {
		return fmt.Errorf("opening skill bank: %w", err)
	}
	defer skills.Close()

	bus := events.NewBus()
	defer bus.Close()

	// The session is created after the backend, but the LLM log sink
	// needs it; bind late through a pointer.
	var sess *session.Session
	sink := func(call agents.CallLog) {
		if sess != nil {
			sess.RecordLLMCall(call)
		}
	}

	base, err := agents.New(agents.Config{
		Command:      cfg.Backend.Command,
		Model:        cfg.Backend.Model,
		QueryTimeout: time.Duration(cfg.Backend.QueryTimeout) * time.Second,
	}, pm)
	if err != nil {
		return fmt.Errorf("creating backend: %w", err)
	}
	breakers := agents.NewBreakerRegistry()
	resilient := agents.NewResilientBackend(base, breakers.Get(cfg.Backend.Command), agents.DefaultRetryConfig())
	logging := agents.NewLoggingBackend(resilient, sink)
	defer logging.Close()

	stageAgents := agents.NewLLMAgents(logging)

	sess = session.New(session.Options{
		Config: cfg,
		Agents: stageAgents,
		Store:  store,
		Skills: skills,
		Bus:    bus,
		Tokens: logging,
		NewExecutor: func(projectDir string) (pipeline.StepExecutor, error) {
			if err := os.MkdirAll(projectDir, 0o755); err != nil {
				return nil, err
			}
			return &stepExecutor{
				inner: executor.New(logging, projectDir,
					time.Duration(cfg.Backend.StepTimeout)*time.Second, pm),
				stop:          executor.DefaultStopCondition(),
				verifyTimeout: time.Duration(cfg.Backend.VerifyTimeout) * time.Second,
			}, nil
		},
	})

	switch {
	case resume != "":
		if err := sess.Resume(ctx, resume); err != nil {
			return err
		}
	case title != "" && problem != "":
		if err := sess.Start(ctx, title, problem); err != nil {
			return err
		}
	case !serve:
		return errors.New("provide -title and -problem to start a run, or -resume <slug>")
	}

	if serve {
		log.Printf("serving dashboard API on :%d", cfg.ServerPort)
		return server.New(sess).ListenAndServe(ctx, cfg.ServerPort)
	}

	return runDashboard(ctx, sess, bus, cfg.ServerPort)
}

// runDashboard supervises the TUI and the HTTP API together; either
// one failing tears the other down.
func runDashboard(ctx context.Context, sess *session.Session, bus *events.Bus, port int) error {
	g, ctx := errgroup.WithContext(ctx)

	p := tea.NewProgram(tui.New(sess, bus), tea.WithAltScreen(), tea.WithContext(ctx))
	g.Go(func() error {
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := server.New(sess).ListenAndServe(ctx, port)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err := g.Wait()
	sess.Stop()
	return err
}

// stepExecutor adapts the executor to the coordinator's simpler
// interface, fixing the stop condition and verify timeout.
type stepExecutor struct {
	inner         *executor.Executor
	stop          executor.StopCondition
	verifyTimeout time.Duration
}

func (s *stepExecutor) ExecutePlan(ctx context.Context, plan *agents.Plan) (*agents.ExecutionResult, error) {
	return s.inner.ExecutePlan(ctx, plan, s.stop)
}

func (s *stepExecutor) Verify(ctx context.Context) *agents.VerifyResult {
	return s.inner.Verify(ctx, s.verifyTimeout)
}
