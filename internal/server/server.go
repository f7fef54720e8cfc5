package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swimctl/swimctl/internal/ops"
	"github.com/swimctl/swimctl/internal/store"
	"golang.org/x/time/rate"
)

// HealthChecker reports the state of the flights table.
type HealthChecker interface {
	Health(ctx context.Context) store.Health
}

// ServiceControl queries and drives the receiver unit.
type ServiceControl interface {
	State(ctx context.Context) string
	Do(ctx context.Context, action string) (ok bool, message string, err error)
}

// HostSampler produces host metrics snapshots.
type HostSampler interface {
	Collect(ctx context.Context) ops.HostMetrics
}

// Options wires the monitoring server.
type Options struct {
	Health       HealthChecker
	Service      ServiceControl
	Host         HostSampler
	ServiceName  string
	ControlToken string
	// ControlPerMinute caps start/stop/restart calls; 0 disables the cap.
	ControlPerMinute int
	Registry         *prometheus.Registry
	Logger           *log.Logger
}

// New builds the echo instance with every route mounted.
func New(opts Options) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		if code == http.StatusNotFound {
			msg = "not found"
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if opts.Registry != nil {
		gatherer, registerer = opts.Registry, opts.Registry
	}
	e.Use(requestMetrics(newHTTPMetrics(registerer)))

	h := &OpsHandler{
		health:      opts.Health,
		service:     opts.Service,
		host:        opts.Host,
		serviceName: opts.ServiceName,
		token:       opts.ControlToken,
		logger:      logger,
	}
	if opts.ControlPerMinute > 0 {
		h.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.ControlPerMinute)), opts.ControlPerMinute)
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	h.Register(e)
	return e
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
