package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tlcopt/internal/config"
	"tlcopt/internal/controlid"
	"tlcopt/internal/engine"
	"tlcopt/internal/metrics"
	"tlcopt/internal/model"
	"tlcopt/internal/network"
	"tlcopt/internal/phase"
	"tlcopt/internal/protocol"
	"tlcopt/internal/scenario"
	"tlcopt/internal/stats"
	"tlcopt/internal/storage"
	"tlcopt/internal/turning"
	"tlcopt/internal/wire"
)

const (
	exitRuntime   = 1
	exitBootstrap = 2
)

var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps bootstrap failures and bad invocations to 2, everything else
// to 1.
func exitCode(err error) int {
	if errors.Is(err, errUsage) || errors.Is(err, protocol.ErrNetworkUnavailable) {
		return exitBootstrap
	}
	return exitRuntime
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "probe":
		return runProbe(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	case "sessions":
		return runSessions(ctx, args[1:])
	case "evaluations":
		return runEvaluations(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// serveConfig merges defaults, the config file, the environment, flags and
// the positional "network [instance-id]" arguments, in that order.
func serveConfig(args []string, lookup func(string) (string, bool)) (config.Config, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML or TOML config file")
	id := fs.Int("id", config.DefaultInstanceID, "instance id; listen port is base port + id")
	port := fs.Int("port", config.DefaultBasePort, "base port")
	networkFile := fs.String("network", "", "network file used when the optimizer sends NONE")
	controller := fs.String("controller", "", "controller kind: fixed-time|actuated|external")
	framing := fs.String("framing", "", "message framing: raw|line|msgpack")
	storeKind := fs.String("store", "", "store backend: memory|sqlite|postgres")
	dbPath := fs.String("db-path", "", "sqlite database path")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, usageError(err.Error())
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, usageError(err.Error())
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return config.Config{}, usageError(err.Error())
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["id"] {
		cfg.InstanceID = *id
	}
	if set["port"] {
		cfg.BasePort = *port
	}
	if set["network"] {
		cfg.Network = *networkFile
	}
	if set["controller"] {
		cfg.Controller = *controller
	}
	if set["framing"] {
		cfg.Framing = *framing
	}
	if set["store"] {
		cfg.Store.Kind = *storeKind
	}
	if set["db-path"] {
		cfg.Store.Path = *dbPath
	}
	if set["metrics-addr"] {
		cfg.MetricsAddr = *metricsAddr
	}

	rest := fs.Args()
	if len(rest) > 2 {
		return config.Config{}, usageError("serve takes at most a network file and an instance id")
	}
	if len(rest) >= 1 {
		cfg.Network = rest[0]
	}
	if len(rest) == 2 {
		n, err := strconv.Atoi(rest[1])
		if err != nil {
			return config.Config{}, usageError(fmt.Sprintf("invalid instance id %q", rest[1]))
		}
		cfg.InstanceID = n
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, usageError(err.Error())
	}
	return cfg, nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, err := serveConfig(args, os.LookupEnv)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return usageError(err.Error())
	}

	store, err := storage.NewStore(cfg.Store.Kind, cfg.StoreTarget())
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if err := store.Init(ctx); err != nil {
		return err
	}

	var recorder *metrics.Recorder
	if cfg.MetricsAddr != "" {
		recorder = metrics.NewRecorder()
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	ln, err := wire.Listen(ctx, cfg.ListenAddr())
	if err != nil {
		return err
	}
	logger.Info("waiting for optimizer",
		"addr", ln.Addr().String(),
		"instance", cfg.InstanceID,
		"controller", cfg.ControllerKind(),
		"framing", cfg.Framing,
		"store", cfg.Store.Kind,
	)
	raw, err := wire.AcceptOne(ctx, ln)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	conn := wire.NewConn(raw, cfg.WireOptions())
	defer conn.Close()
	logger.Info("optimizer connected", "remote", conn.RemoteAddr().String())

	server := &protocol.Server{
		Kind:             cfg.ControllerKind(),
		DefaultNetwork:   cfg.Network,
		InstanceID:       cfg.InstanceID,
		AnnounceInitDone: cfg.AnnounceInitDone,
		APIExtension:     cfg.APIExtension,
		Results: scenario.ResultStorage{
			Driver:   cfg.Store.Driver,
			Database: cfg.DatabaseName(),
			User:     cfg.Store.User,
		},
		ArtifactsDir: cfg.ArtifactsDir,
		Simulator: &engine.Local{
			Command: cfg.Simulator.Command,
			Args:    cfg.Simulator.Args,
			Timeout: cfg.Simulator.Timeout,
			Logger:  logger,
		},
		Store:   store,
		Metrics: recorder,
		Logger:  logger,
	}
	err = server.Serve(ctx, conn)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runProbe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:1235", "server address")
	networkFile := fs.String("network", "", "network file; empty sends NONE")
	replication := fs.Int("replication", 0, "replication id")
	pointInTime := fs.Float64("time", 0, "point in time in seconds")
	junction := fs.Int("junction", 0, "junction id")
	simDur := fs.Int("simdur", 600, "simulation duration in seconds")
	warmup := fs.Int("warmup", 300, "warm-up duration in seconds")
	controller := fs.String("controller", "fixed-time", "controller kind of the server")
	announce := fs.Bool("announce-init", false, "expect INIT_DONE before the turning report")
	framing := fs.String("framing", string(wire.FramingRaw), "message framing: raw|line|msgpack")
	wait := fs.Duration("wait", 0, "keep retrying the connection for this long")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	kind, ok := controlid.Parse(*controller)
	if !ok {
		return usageError(fmt.Sprintf("unsupported controller kind: %s", *controller))
	}
	opts := wire.DefaultOptions()
	var err error
	if opts.Framing, err = wire.ParseFraming(*framing); err != nil {
		return usageError(err.Error())
	}

	conn, err := dialWithRetry(ctx, *addr, opts, *wait)
	if err != nil {
		return err
	}
	defer conn.Close()

	opt := protocol.NewOptimizer(conn)
	ack, err := opt.SendTask(protocol.TaskRequest{
		Network: *networkFile,
		Task: model.TaskDescriptor{
			ReplicationID:      *replication,
			PointInTime:        *pointInTime,
			JunctionID:         *junction,
			SimulationDuration: *simDur,
			WarmupDuration:     *warmup,
		},
	})
	if err != nil {
		return err
	}
	fmt.Printf("statuses=%s\n", strings.Join(ack.Statuses, ","))

	if kind == model.ControllerExternal || *announce {
		if err := opt.AwaitInit(); err != nil {
			return err
		}
		fmt.Println("init=done")
	}
	if kind != model.ControllerExternal {
		turnings, err := opt.RequestTurnings()
		if err != nil {
			return err
		}
		fmt.Printf("turnings=%s\n", turning.Encode(turnings))
		plan, err := opt.RequestPhases()
		if err != nil {
			return err
		}
		printPlan(plan)
	}
	return opt.Done()
}

func dialWithRetry(ctx context.Context, addr string, opts wire.Options, wait time.Duration) (*wire.Conn, error) {
	deadline := time.Now().Add(wait)
	for {
		conn, err := wire.Dial(ctx, addr, opts)
		if err == nil || time.Now().After(deadline) {
			return conn, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func runInspect(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	networkFile := fs.String("network", "", "network file")
	replication := fs.Int("replication", 0, "replication id whose scenario selects the control plan")
	junction := fs.Int("junction", 0, "junction id")
	at := fs.Float64("time", 0, "point in time in seconds")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *networkFile == "" || *junction == 0 || *replication == 0 {
		return usageError("inspect requires -network, -replication and -junction")
	}

	net, err := network.Load(network.ResolveFile(*networkFile))
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrNetworkUnavailable, err)
	}
	node, err := net.Node(*junction)
	if err != nil {
		return err
	}
	classes, err := turning.Classify(net, node)
	if err != nil {
		return err
	}
	fmt.Printf("junction=%d name=%q\n", node.ID, node.Name)
	fmt.Printf("motorized=%s\n", turning.Encode(classes.Motorized))
	fmt.Printf("pedestrian=%s\n", turning.Encode(classes.Pedestrian))

	rep, err := net.Replication(*replication)
	if err != nil {
		return err
	}
	exp, err := net.Experiment(rep.Experiment)
	if err != nil {
		return err
	}
	scen, err := net.Scenario(exp.Scenario)
	if err != nil {
		return err
	}
	builder := scenario.NewBuilder(net, slog.New(slog.DiscardHandler))
	src, err := builder.CaptureSources(scen)
	if err != nil {
		return err
	}
	item, err := scenario.ActiveControlPlanItem(src.MasterPlan, src.Demand.InitialTime+*at)
	if err != nil {
		return err
	}
	plan, err := net.ControlPlan(item.ControlPlan)
	if err != nil {
		return err
	}
	controlled, ok := plan.Junction(node.ID)
	if !ok {
		return fmt.Errorf("junction %d is not controlled by plan %d", node.ID, plan.ID)
	}
	fmt.Printf("control_plan=%d type=%s\n", plan.ID, controlled.Type)
	printPlan(phase.FromControlJunction(controlled))
	return nil
}

func printPlan(plan model.PhasePlan) {
	fmt.Printf("phases=%d cycle=%s\n", len(plan.Phases), wire.FormatFloat(plan.Cycle))
	for i, p := range plan.Phases {
		fmt.Printf("phase=%d report=%q start=%s\n", i+1, phase.ReportLine(p), wire.FormatFloat(p.StartOffset))
	}
}

// openStore opens the result store named by the common store flags.
func openStore(ctx context.Context, fs *flag.FlagSet, args []string) (storage.Store, error) {
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite|postgres")
	dbPath := fs.String("db-path", config.DefaultStorePath, "sqlite database path")
	dsn := fs.String("dsn", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		return nil, usageError(err.Error())
	}
	target := *dbPath
	if *storeKind == storage.KindPostgres {
		target = *dsn
	}
	store, err := storage.NewStore(*storeKind, target)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}
	return store, nil
}

func runSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max sessions to list")
	store, err := openStore(ctx, fs, args)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	// Most recent first.
	for i := len(sessions) - 1; i >= 0 && len(sessions)-i <= *limit; i-- {
		s := sessions[i]
		fmt.Printf("session_id=%s instance=%d controller=%s replication=%d junction=%d degraded=%t started_at=%s\n",
			s.ID, s.InstanceID, s.ControllerKind, s.Task.ReplicationID, s.Task.JunctionID, s.Degraded, s.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func runEvaluations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluations", flag.ContinueOnError)
	sessionID := fs.String("session", "", "session id")
	store, err := openStore(ctx, fs, args)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if *sessionID == "" {
		return usageError("evaluations requires -session")
	}

	evaluations, err := store.GetEvaluations(ctx, *sessionID)
	if err != nil {
		return err
	}
	for _, e := range evaluations {
		fmt.Printf("generation=%d index=%d seed=%d status=%s genes=%v cycle=%s run=%s\n",
			e.Generation, e.Index, e.Seed, e.Status, []int(e.Genes), wire.FormatFloat(e.Plan.Cycle), e.RunID)
	}
	return nil
}

func runExport(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	artifactsDir := fs.String("artifacts", config.DefaultArtifactsDir, "artifacts directory written by serve")
	sessionID := fs.String("session", "", "session id")
	latest := fs.Bool("latest", false, "export the most recent session from the index")
	outDir := fs.String("out", "exports", "output directory")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	id := *sessionID
	if *latest {
		index, err := stats.ListSessionIndex(*artifactsDir)
		if err != nil {
			return err
		}
		if len(index) == 0 {
			return fmt.Errorf("no sessions in %s", *artifactsDir)
		}
		id = index[0].SessionID
	}
	if id == "" {
		return usageError("export requires -session or -latest")
	}

	dir, err := stats.ExportSessionArtifacts(*artifactsDir, id, *outDir)
	if err != nil {
		return err
	}
	fmt.Printf("exported session_id=%s dir=%s\n", id, dir)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%w: %s\nusage: tlcopt <serve|probe|inspect|sessions|evaluations|export> [flags]", errUsage, msg)
}
