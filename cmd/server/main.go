// Surfacer ranks work items from many sources and keeps each user's short
// list of what matters now.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/surfacer/internal/authmw"
	sc "github.com/linnemanlabs/surfacer/internal/cfg"
	"github.com/linnemanlabs/surfacer/internal/notify/slack"
	"github.com/linnemanlabs/surfacer/internal/postgres"
	"github.com/linnemanlabs/surfacer/internal/priority"
	"github.com/linnemanlabs/surfacer/internal/priority/memstore"
	"github.com/linnemanlabs/surfacer/internal/priority/pgstore"
	"github.com/linnemanlabs/surfacer/internal/priorityapi"
	"github.com/linnemanlabs/surfacer/internal/source"
)

const (
	appName   = "surfacer"
	component = "server"

	maxRequestBody = 64 << 10
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// stopFn is one component's shutdown step.
type stopFn struct {
	name string
	fn   func(context.Context) error
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		appCfg    sc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// SURFACER_* env vars fill flags not set on the command line
	cfg.FillFromEnv(flag.CommandLine, "SURFACER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"cycle_interval", appCfg.CycleInterval,
		"cycle_deadline", appCfg.CycleDeadline,
		"adapter_timeout", appCfg.AdapterTimeout,
		"scoring_config", appCfg.ScoringConfig,
		"users", appCfg.UserList(),
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}
	profiling := profErr == nil && profCfg.EnablePyroscope
	if profiling {
		// cycle spans carry profile ids so a slow cycle links to its flame graph
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profiling)

	tuning := priority.DefaultConfig()
	if appCfg.ScoringConfig != "" {
		if tuning, err = priority.LoadConfig(appCfg.ScoringConfig); err != nil {
			return fmt.Errorf("scoring config: %w", err)
		}
		L.Info(ctx, "loaded scoring config", "path", appCfg.ScoringConfig)
	}

	feeds, err := appCfg.Feeds()
	if err != nil {
		return err
	}
	sources := newSourceRegistry(feeds, appCfg.FeedToken, L)
	for _, a := range sources.Adapters() {
		L.Info(ctx, "registered source adapter", "name", a.Name(), "endpoint", feeds[a.Name()])
	}

	// without a detector, responses only arrive through the respond endpoint
	var detector priority.ResponseDetector
	if appCfg.DetectorEndpoint != "" {
		detector = source.NewHTTPDetector(appCfg.DetectorEndpoint, appCfg.FeedToken)
		L.Info(ctx, "response detector enabled", "endpoint", appCfg.DetectorEndpoint)
	}

	var effector priority.VisibilityEffector
	if appCfg.SlackWebhookURL != "" {
		effector = slack.New(appCfg.SlackWebhookURL, L)
		L.Info(ctx, "visibility effector enabled", "type", "slack")
	}

	store, closeStore, err := openStore(ctx, appCfg.DatabaseURL, L)
	if err != nil {
		return err
	}
	defer closeStore()

	priorityMetrics := priority.NewMetrics(m.Registry())
	postgres.SetQueryObserver(newDBQueryObserver(m.Registry()))

	engine := priority.NewEngine(store, tuning, priority.EngineOptions{
		Adapters:       sources.Adapters(),
		Detector:       detector,
		Effector:       effector,
		CycleDeadline:  appCfg.CycleDeadline,
		AdapterTimeout: appCfg.AdapterTimeout,
		EffectTimeout:  appCfg.EffectTimeout,
	}, L, priorityMetrics.Hooks())
	svc := priority.NewService(store, engine, L, priorityMetrics.ServiceHooks())

	stopScheduler := startScheduler(ctx, priority.NewScheduler(engine, appCfg.UserList(), appCfg.CycleInterval, L))
	defer func() { _ = stopScheduler(context.Background()) }()

	tokens, err := appCfg.Tokens()
	if err != nil {
		return err
	}

	// readiness fails once draining starts so the load balancer stops routing here
	var shutdownGate health.ShutdownGate
	readiness := health.All(shutdownGate.Probe())
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// ops listener rejects public ips and forwarded requests in its own middleware
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	if len(tokens) == 0 {
		L.Warn(ctx, "no api tokens configured, api trusts the user query parameter")
	}
	router := newRouter(priorityapi.New(L, svc), tokens, health.HealthzHandler(liveness), health.ReadyzHandler(readiness))
	h := wrapHandler(router, L, func(h http.Handler) http.Handler { return m.Middleware(h) }, httpmwCfg)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		if err := apiHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	drain(L, time.Duration(appCfg.DrainSeconds)*time.Second)

	// in-flight requests finish before the scheduler stops, so a manual
	// cycle request is never cut off by a closed store
	shutdown(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, []stopFn{
		{"api http server", apiHTTPStop},
		{"cycle scheduler", stopScheduler},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	})
	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// openStore returns the postgres store when databaseURL is set and the
// in-memory store otherwise.
func openStore(ctx context.Context, databaseURL string, L log.Logger) (priority.Store, func(), error) {
	if databaseURL == "" {
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	L.Info(ctx, "using postgres store")
	return store, store.Close, nil
}

// newDBQueryObserver registers the per-query duration histogram on reg.
func newDBQueryObserver(reg prometheus.Registerer) postgres.QueryObserver {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surfacer_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"origin", "route", "outcome"})
	reg.MustRegister(hist)
	return postgres.QueryObserverFunc(func(_ context.Context, origin, route, outcome string, dur time.Duration) {
		hist.WithLabelValues(origin, route, outcome).Observe(dur.Seconds())
	})
}

// startScheduler runs s in the background, detached from the signal context
// so a shutdown signal lets the current cycle finish. The returned function
// stops it and waits for the loop to exit.
func startScheduler(ctx context.Context, s *priority.Scheduler) func(context.Context) error {
	schedCtx, cancel := context.WithCancel(postgres.WithOrigin(context.WithoutCancel(ctx), postgres.OriginCycle))
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(schedCtx)
	}()
	return func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// newRouter mounts the health endpoints and the priority API. The API sits
// behind bearer-token auth when tokens are configured.
func newRouter(api *priorityapi.API, tokens map[string]string, healthz, readyz http.HandlerFunc) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(postgres.Middleware)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(maxRequestBody))

	r.Get("/-/healthy", healthz)
	r.Get("/-/ready", readyz)

	r.Group(func(r chi.Router) {
		if len(tokens) > 0 {
			r.Use(authmw.Tokens(tokens))
		}
		api.RegisterRoutes(r)
	})
	return r
}

// wrapHandler applies the outer middleware. Listed inner to outer: the
// request logger sees trace and route data, recovery and security headers
// cover everything below them.
func wrapHandler(h http.Handler, L log.Logger, instrument func(http.Handler) http.Handler, mwCfg httpmw.Config) http.Handler {
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the chi route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = instrument(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: mwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	return httpmw.SecurityHeaders(h)
}

// drain waits d for in-flight requests while readiness reports draining. A
// second signal cuts the wait short.
func drain(L log.Logger, d time.Duration) {
	L.Info(context.Background(), "draining", "drain_seconds", d.Seconds())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)
	select {
	case <-time.After(d):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

// shutdown runs each step in order with an equal slice of budget.
func shutdown(L log.Logger, budget time.Duration, steps []stopFn) {
	if len(steps) == 0 {
		return
	}
	perStep := budget / time.Duration(len(steps))
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	for _, s := range steps {
		if s.fn == nil {
			continue
		}
		sctx, scancel := context.WithTimeout(ctx, perStep)
		if err := s.fn(sctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		scancel()
	}
}

// newSourceRegistry registers one HTTP feed adapter per configured endpoint.
func newSourceRegistry(feeds map[string]string, token string, L log.Logger) *source.Registry {
	reg := source.NewRegistry()
	for name, endpoint := range feeds {
		reg.Register(source.NewHTTPFeed(name, endpoint, token, L))
	}
	return reg
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd; unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
