package server

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/swimctl/swimctl/internal/ops"
	"golang.org/x/time/rate"
)

// OpsHandler exposes host, database and service endpoints.
type OpsHandler struct {
	health      HealthChecker
	service     ServiceControl
	host        HostSampler
	serviceName string
	token       string
	limiter     *rate.Limiter
	logger      *log.Logger
}

// StatusResponse is returned by /status.
type StatusResponse struct {
	Service string `json:"service"`
	State   string `json:"state"`
}

// ControlResponse is returned by the control endpoints.
type ControlResponse struct {
	OK      bool   `json:"ok"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (h *OpsHandler) Register(e *echo.Echo) {
	e.GET("/status", h.status)
	e.GET("/host", h.hostMetrics)
	e.GET("/db", h.db)
	for _, action := range []string{ops.ActionStart, ops.ActionStop, ops.ActionRestart} {
		e.GET("/"+action, h.control(action))
	}
}

func (h *OpsHandler) status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Service: h.serviceName,
		State:   h.service.State(c.Request().Context()),
	})
}

func (h *OpsHandler) hostMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.host.Collect(c.Request().Context()))
}

// db always answers 200; failures are carried in the body.
func (h *OpsHandler) db(c echo.Context) error {
	return c.JSON(http.StatusOK, h.health.Health(c.Request().Context()))
}

func (h *OpsHandler) control(action string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.authorized(c.QueryParam("token")) {
			return c.String(http.StatusForbidden, "forbidden")
		}
		if h.limiter != nil && !h.limiter.Allow() {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many control requests")
		}
		ok, msg, err := h.service.Do(c.Request().Context(), action)
		if errors.Is(err, ops.ErrUnknownAction) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err != nil {
			return err
		}
		h.logger.Printf("[INFO] %s %s from %s: ok=%v", action, h.serviceName, c.RealIP(), ok)
		code := http.StatusOK
		if !ok {
			code = http.StatusInternalServerError
		}
		return c.JSON(code, ControlResponse{OK: ok, Action: action, Message: msg})
	}
}

// authorized rejects every request when no token is configured.
func (h *OpsHandler) authorized(given string) bool {
	if h.token == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.token)) == 1
}
