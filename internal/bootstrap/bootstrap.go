package bootstrap

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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"image-sage-server-go/internal/app/services"
	"image-sage-server-go/internal/domain/eventbus"
	"image-sage-server-go/internal/domain/providers"
	platformconfig "image-sage-server-go/internal/platform/config"
	platformerrors "image-sage-server-go/internal/platform/errors"
	platformlogging "image-sage-server-go/internal/platform/logging"
	platformobservability "image-sage-server-go/internal/platform/observability"
	httptransport "image-sage-server-go/internal/transport/http"
	mcptransport "image-sage-server-go/internal/transport/mcp"
	"image-sage-server-go/internal/utils"
)

// Options 启动参数
type Options struct {
	// ConfigPath 指定 YAML 配置文件，优先于 IMAGE_SAGE_CONFIG
	ConfigPath string
	// Transport 覆盖配置中的传输方式
	Transport string
	// Lookup 替换环境变量来源（测试用）
	Lookup platformconfig.LookupFunc
	// DotEnv 是否加载 .env
	DotEnv bool
	// LogConsole 替换控制台日志输出，默认 stderr
	LogConsole io.Writer

	Stdin  io.Reader
	Stdout io.Writer
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts                  Options
	config                *platformconfig.Config
	configPath            string
	logProvider           *platformlogging.Logger
	logger                *utils.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	events                *eventbus.AsyncEventBus
	providers             *providers.Manager
	analyzer              *services.AnalyzerService
}

// App is a fully initialised analyzer with its dependencies.
type App struct {
	Config    *platformconfig.Config
	Logger    *utils.Logger
	Analyzer  *services.AnalyzerService
	Providers *providers.Manager

	state *appState
}

// Prepare runs the init graph and returns the ready application. Callers
// must Close it.
func Prepare(ctx context.Context, opts Options) (*App, error) {
	state := &appState{opts: opts}
	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		state.close()
		return nil, err
	}
	return &App{
		Config:    state.config,
		Logger:    state.logger,
		Analyzer:  state.analyzer,
		Providers: state.providers,
		state:     state,
	}, nil
}

// Close releases backends, drains events and closes the log file.
func (a *App) Close() error {
	if a == nil || a.state == nil {
		return nil
	}
	return a.state.close()
}

func (s *appState) close() error {
	var errs []error
	if s.providers != nil {
		if err := s.providers.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.events != nil {
		s.events.Stop()
		s.events = nil
	}
	if s.observabilityShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.observabilityShutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		s.observabilityShutdown = nil
	}
	if s.logProvider != nil {
		if err := s.logProvider.Close(); err != nil {
			errs = append(errs, err)
		}
		s.logProvider = nil
	}
	return errors.Join(errs...)
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, opts Options) error {
	app, err := Prepare(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	logger := app.Logger
	logBootstrapGraph(InitGraph(), logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(app, opts, group, groupCtx, cancel); err != nil {
		cancel()
		return err
	}

	return waitForShutdown(signalCtx, groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *utils.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("引导", "%s: %s", step.ID, step.Title)
			continue
		}
		logger.InfoTag("引导", "%s: %s (依赖 %s)", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
	logger.InfoTag("引导", "启动服务")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration from defaults, file and environment",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "eventbus:init-handlers",
			Title:     "Start event bus and subscribe handlers",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "providers:init-manager",
			Title:     "Build vision backends",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initProvidersStep,
		},
		{
			ID:        "services:init-analyzer",
			Title:     "Initialise analyzer service",
			DependsOn: []string{"observability:setup-hooks", "eventbus:init-handlers", "providers:init-manager"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initAnalyzerStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader().WithDotEnv(state.opts.DotEnv)
	if state.opts.Lookup != nil {
		loader = loader.WithLookup(state.opts.Lookup)
	}
	if state.opts.ConfigPath != "" {
		loader = loader.WithFile(state.opts.ConfigPath)
	}

	res, err := loader.Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}

	cfg := res.Config
	if t := strings.ToLower(strings.TrimSpace(state.opts.Transport)); t != "" {
		cfg.Server.Transport = t
	}

	state.config = cfg
	state.configPath = res.Path
	if state.configPath == "" {
		state.configPath = "env"
	}
	// 日志模块尚未就绪，警告先暂存到 stderr
	for _, w := range res.Warnings {
		fmt.Fprintln(stderrOr(state.opts.LogConsole), "[config] "+w)
	}
	return nil
}

func stderrOr(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return os.Stderr
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logProvider, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
		Console:  state.opts.LogConsole,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logProvider = logProvider
	state.logger = logProvider.Legacy()
	state.slogger = logProvider.Slog()
	utils.DefaultLogger = state.logger

	state.logger.InfoTag(
		"引导",
		"日志模块就绪 [%s] %s",
		state.config.Log.Level,
		state.configPath,
	)
	// 调试启动行直接写 stderr，不受日志级别影响
	if state.config.Server.Debug {
		fmt.Fprintf(stderrOr(state.opts.LogConsole), "[%s] starting (pid=%d)\n", state.config.Server.Name, os.Getpid())
	}
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state == nil || state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug") || state.config.Server.Debug,
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.NewAsyncEventBus(4)
	bus.SetLogger(state.logger)
	if err := eventbus.SetupEventHandlers(bus, eventbus.NewVisionEventHandler(state.logger)); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "eventbus:init-handlers", "failed to subscribe event handlers", err)
	}
	bus.Start()
	state.events = bus
	return nil
}

func initProvidersStep(ctx context.Context, state *appState) error {
	mgr, err := providers.NewManager(ctx, state.config, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "providers:init-manager", "failed to build vision backends", err)
	}
	state.providers = mgr
	return nil
}

func initAnalyzerStep(_ context.Context, state *appState) error {
	if state.providers == nil || state.events == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"services:init-analyzer",
			"providers/eventbus not initialised",
		)
	}
	state.analyzer = services.BuildAnalyzer(state.config, state.providers.Backends(), state.events.Async(), state.logger)
	state.analyzer.SetDebugOutput(stderrOr(state.opts.LogConsole))
	return nil
}

func startServices(
	app *App,
	opts Options,
	g *errgroup.Group,
	groupCtx context.Context,
	cancel context.CancelFunc,
) error {
	cfg := app.Config
	logger := app.Logger
	mcpServer := mcptransport.NewServer(cfg.Server.Name, cfg.Server.Version, app.Analyzer, logger)

	switch cfg.Server.Transport {
	case "stdio":
		in, out := opts.Stdin, opts.Stdout
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		g.Go(func() error {
			// stdin 关闭即客户端断开，整体退出
			defer cancel()
			return mcpServer.ServeStdio(groupCtx, in, out)
		})
		return nil

	case "sse", "http":
		var sse *server.SSEServer
		if cfg.Server.Transport == "sse" {
			sse = mcpServer.NewSSEServer(publicBaseURL(cfg))
		}
		if _, err := startHTTPServer(app, sse, g, groupCtx); err != nil {
			return fmt.Errorf("启动 Http 服务失败: %w", err)
		}
		return nil

	default:
		return platformerrors.New(platformerrors.KindConfig, "transport:start", fmt.Sprintf("unknown transport %q", cfg.Server.Transport))
	}
}

func publicBaseURL(cfg *platformconfig.Config) string {
	host := cfg.Web.IP
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Web.Port))
}

func startHTTPServer(
	app *App,
	sse *server.SSEServer,
	g *errgroup.Group,
	groupCtx context.Context,
) (*http.Server, error) {
	cfg := app.Config
	logger := app.Logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: cfg,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	httptransport.NewHandler(app.Analyzer, cfg.Server.Name, cfg.Server.Version, logger).Register(httpRouter)
	if sse != nil {
		httptransport.MountSSE(httpRouter, sse)
	}

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Web.IP, strconv.Itoa(cfg.Web.Port)),
		Handler:           httpRouter.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		// SSE 长连接随服务关闭一起结束
		BaseContext: func(net.Listener) context.Context { return groupCtx },
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 %s", publicBaseURL(cfg))
		if sse != nil {
			logger.InfoTag("HTTP", "MCP SSE 入口: %s/sse", publicBaseURL(cfg))
		}

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	groupCtx context.Context,
	cancel context.CancelFunc,
	logger *utils.Logger,
	g *errgroup.Group,
) error {
	select {
	case <-ctx.Done():
		logger.InfoTag("引导", "收到退出信号 %v，正在进行资源清理", context.Cause(ctx))
	case <-groupCtx.Done():
		logger.InfoTag("引导", "服务已退出，正在进行资源清理")
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}
