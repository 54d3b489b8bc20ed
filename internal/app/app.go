// Package app wires all pitchcoach subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in reverse order. Reload applies a changed config
// without a restart where the change allows it.
//
// For testing, inject doubles via functional options (WithOracle,
// WithListener, etc.). When an option is not provided, New builds real
// implementations from the config and providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pitchcoach/internal/analysis"
	"github.com/MrWong99/pitchcoach/internal/arbiter"
	"github.com/MrWong99/pitchcoach/internal/config"
	"github.com/MrWong99/pitchcoach/internal/health"
	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/internal/oracle"
	"github.com/MrWong99/pitchcoach/internal/resilience"
	"github.com/MrWong99/pitchcoach/internal/rules"
	"github.com/MrWong99/pitchcoach/internal/session"
	"github.com/MrWong99/pitchcoach/internal/turn"
	"github.com/MrWong99/pitchcoach/internal/web"
	"github.com/MrWong99/pitchcoach/pkg/provider/llm"
)

// shutdownGrace bounds the HTTP drain when Run's context is cancelled.
const shutdownGrace = 10 * time.Second

// NamedLLM is a language model provider plus the name it was configured as.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the language model backends built by main.go via the
// config registry. LLM is required unless an oracle is injected with
// [WithOracle].
type Providers struct {
	LLM       NamedLLM
	Fallbacks []NamedLLM
}

// App owns all subsystem lifetimes.
type App struct {
	cfgMu sync.Mutex
	cfg   *config.Config

	providers *Providers

	// Subsystems, initialised in New.
	llm            *resilience.LLMFallback
	oracle         oracle.Oracle
	arbiter        *arbiter.Arbiter
	questioner     *arbiter.Questioner
	analyzer       *analysis.Analyzer
	store          *session.Store
	health         *health.Handler
	server         *web.Server
	httpSrv        *http.Server
	listener       net.Listener
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithOracle injects an oracle instead of building one from the providers.
func WithOracle(o oracle.Oracle) Option {
	return func(a *App) { a.oracle = o }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the /metrics handler. Defaults to the global
// Prometheus gatherer.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar hands the app the logger's level so Reload can adjust it.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithCloser registers fn to run during Shutdown. Closers run in reverse
// registration order after the HTTP server has drained.
func WithCloser(fn func(context.Context) error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: fallback chain, oracle,
// rulebook loading, arbiter and analyzer construction, session store and
// HTTP routes. It does not start listening; see [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = observe.MetricsHandler(nil)
	}

	// ── 1. Oracle ────────────────────────────────────────────────────────
	if err := a.initOracle(); err != nil {
		return nil, fmt.Errorf("app: init oracle: %w", err)
	}

	// ── 2. Coaching engine ───────────────────────────────────────────────
	if err := a.initEngine(ctx); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 3. Sessions + health ─────────────────────────────────────────────
	a.store = session.NewStore(session.WithMetrics(a.metrics))
	a.initHealth()

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initOracle builds the fallback chain over the configured providers, unless
// an oracle was injected.
func (a *App) initOracle() error {
	if a.oracle != nil {
		return nil
	}
	if a.providers == nil || a.providers.LLM.Provider == nil {
		return errors.New("an llm provider is required")
	}

	cb := a.cfg.Oracle.CircuitBreaker
	a.llm = resilience.NewLLMFallback(a.providers.LLM.Provider, a.providers.LLM.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
		},
	})
	for _, fb := range a.providers.Fallbacks {
		if fb.Provider == nil {
			continue
		}
		a.llm.AddFallback(fb.Name, fb.Provider)
		slog.Info("llm fallback registered", "name", fb.Name)
	}

	a.oracle = oracle.NewLLM(a.llm, oracle.WithMetrics(a.metrics))
	return nil
}

// initEngine builds the arbiter, questioner and analyzer.
func (a *App) initEngine(ctx context.Context) error {
	coach := a.cfg.Coach

	rb, err := loadRules(coach.RulesFile)
	if err != nil {
		return err
	}
	if rb != nil {
		observe.Logger(ctx).Info("rulebook loaded", "path", coach.RulesFile)
	}

	a.arbiter = arbiter.New(a.oracle,
		arbiter.WithClassifier(newClassifier(coach)),
		arbiter.WithFallbackReply(coach.FallbackReply),
		arbiter.WithContextTurns(coach.ContextTurns),
		arbiter.WithTimeout(a.cfg.Oracle.ResponseTimeout),
		arbiter.WithMetrics(a.metrics),
	)
	a.questioner = arbiter.NewQuestioner(a.oracle, a.cfg.Oracle.ResponseTimeout)
	a.analyzer = analysis.New(a.oracle,
		analysis.WithRules(rb),
		analysis.WithTimeout(a.cfg.Oracle.AnalysisTimeout),
		analysis.WithMetrics(a.metrics),
	)
	return nil
}

// initHealth registers the readiness check on the fallback chain and the
// live session gauge.
func (a *App) initHealth() {
	var checks []health.Checker
	if a.llm != nil {
		checks = append(checks, health.Checker{
			Name: "llm",
			Check: func(context.Context) error {
				if !a.llm.Healthy() {
					return errors.New("every llm circuit breaker is open")
				}
				return nil
			},
		})
	}
	a.health = health.New(a.cfg.Telemetry.ServiceName,
		health.WithCheckers(checks...),
		health.WithGauges(health.Gauge{Name: "sessions", Value: a.store.Len}),
	)
}

// initServer builds the HTTP handler and server.
func (a *App) initServer() {
	a.server = web.New(web.Config{
		Store:          a.store,
		Decider:        a.arbiter,
		Asker:          a.questioner,
		Analyzer:       a.analyzer,
		Gate:           turn.Gate{MinWords: a.cfg.Coach.MinWords},
		Greeting:       a.cfg.Coach.Greeting,
		ModelName:      a.cfg.Providers.LLM.Model,
		Avatar:         a.cfg.Avatar,
		Health:         a.health,
		MetricsHandler: a.metricsHandler,
		Metrics:        a.metrics,
		StaticDir:      a.cfg.Server.StaticDir,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newClassifier builds a direct-question classifier from the coach config.
// Empty settings keep the classifier defaults.
func newClassifier(c config.CoachConfig) *turn.Classifier {
	var opts []turn.Option
	if len(c.QuestionPhrases) > 0 {
		opts = append(opts, turn.WithPhrases(c.QuestionPhrases))
	}
	opts = append(opts, turn.WithPrefixLength(c.PrefixLength))
	return turn.NewClassifier(opts...)
}

// loadRules reads the rulebook at path. An empty path yields nil.
func loadRules(path string) (*rules.Rulebook, error) {
	if path == "" {
		return nil, nil
	}
	rb, err := rules.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load rules %q: %w", path, err)
	}
	return rb, nil
}

// Handler returns the HTTP handler of the app.
func (a *App) Handler() http.Handler {
	return a.server
}

// Store returns the live session store.
func (a *App) Store() *session.Store {
	return a.store
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails. Live
// WebSocket sessions are cancelled together with ctx. A clean stop returns
// nil; call [App.Shutdown] afterwards to release the remaining resources.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	a.httpSrv.BaseContext = func(net.Listener) context.Context { return ctx }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("https server listening", "addr", ln.Addr().String())
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("http server listening", "addr", ln.Addr().String())
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := a.httpSrv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: drain http: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next: the log level, the
// direct-question classifier and the rulebook. The rulebook is re-read on
// every call while a rules file is configured, because its content may have
// changed without the path changing. Fields that need a restart are logged.
func (a *App) Reload(old, next *config.Config) {
	diff := config.Diff(old, next)

	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Slog())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	if diff.ClassifierChanged {
		a.arbiter.SetClassifier(newClassifier(next.Coach))
		slog.Info("question classifier reloaded",
			"phrases", len(next.Coach.QuestionPhrases),
			"prefix_length", next.Coach.PrefixLength,
		)
	}

	if diff.RulesFileChanged || next.Coach.RulesFile != "" {
		rb, err := loadRules(next.Coach.RulesFile)
		if err != nil {
			slog.Warn("rulebook reload failed, keeping previous rules", "err", err)
		} else {
			a.analyzer.SetRules(rb)
			slog.Info("rulebook reloaded", "path", next.Coach.RulesFile)
		}
	}

	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", diff.RestartRequired)
	}

	a.cfgMu.Lock()
	a.cfg = next
	a.cfgMu.Unlock()
}

// Config returns the config most recently applied by New or Reload.
func (a *App) Config() *config.Config {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and runs all closers in reverse
// registration order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned. Calling Shutdown more than once is safe; later calls
// return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "active_sessions", a.store.Len())

		var errs []error
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				errs = append(errs, err)
				break
			}
			if err := a.closers[i](ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
