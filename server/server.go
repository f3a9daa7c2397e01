// Package server assembles the HTTP surface: the onboarding API, health and
// metrics routes, and optionally the built-in stub backend on the same
// listener.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hearth-home/hearth/internal/profile"
	"github.com/hearth-home/hearth/internal/version"
	"github.com/hearth-home/hearth/onboarding"
	"github.com/hearth-home/hearth/onboarding/backend"
	"github.com/hearth-home/hearth/onboarding/metrics"
	apiv1 "github.com/hearth-home/hearth/server/router/api/v1"
	"github.com/hearth-home/hearth/store"
	"github.com/hearth-home/hearth/stub"
)

// stubMountPrefix keeps the stub's collaborator paths from colliding with
// the service's own onboarding routes on the shared listener.
const stubMountPrefix = "/stub"

// Server owns the echo instance, the conversation registry, and the metrics
// recorder for one hearth process.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	manager    *onboarding.Manager
	recorder   *metrics.Recorder
	apiService *apiv1.APIV1Service
	chatApps   *apiv1.ChatAppsService
}

// NewServer builds the server and binds its listener. Binding up front means
// the in-process stub knows its own dialable address before the first engine
// turn goes out, and a taken port fails here instead of inside Start.
func NewServer(ctx context.Context, instanceProfile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Family-ID", "X-User-ID"},
	}))
	e.Use(requestLogger())

	s := &Server{
		Profile:    instanceProfile,
		Store:      storeInstance,
		echoServer: e,
		recorder:   metrics.NewRecorder(metrics.DefaultConfig()),
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(instanceProfile.Addr, strconv.Itoa(instanceProfile.Port)))
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s:%d", instanceProfile.Addr, instanceProfile.Port)
	}
	e.Listener = ln

	baseURL := instanceProfile.BackendBaseURL
	if instanceProfile.StubEnabled {
		stubService := stub.NewService(instanceProfile, storeInstance, slog.Default())
		stubService.RegisterRoutes(e.Group(stubMountPrefix + "/api/v1"))
		if baseURL == "" {
			baseURL = "http://" + net.JoinHostPort(dialHost(instanceProfile.Addr), strconv.Itoa(boundPort(ln))) + stubMountPrefix
		}
		slog.Info("stub backend mounted", "prefix", stubMountPrefix, "base_url", baseURL)
	}

	backendClient := backend.New(baseURL, instanceProfile.BackendToken)
	s.manager = onboarding.NewManager(backendClient, onboarding.ManagerOptions{
		Engine: onboarding.Options{
			Grace:         instanceProfile.FallbackGrace(),
			StreamTimeout: time.Duration(instanceProfile.StreamTimeout) * time.Second,
			HistoryWindow: instanceProfile.HistoryWindow,
			Logger:        slog.Default(),
			Metrics:       s.recorder,
		},
	})

	s.chatApps = apiv1.NewChatAppsService(instanceProfile, s.manager, storeInstance.GetDriver().GetDB(), slog.Default())

	s.apiService = apiv1.NewAPIV1Service(instanceProfile.JWTSecret, instanceProfile, s.manager, s.recorder)
	s.apiService.ChatApps = s.chatApps
	s.apiService.RegisterRoutes(e)

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(s.recorder.Handler()))

	return s, nil
}

// Start begins serving in the background. The listener is already bound, so
// a nil return means the address is held and requests are being accepted.
// Chat channels come up in the background; they dial out to their platforms
// and must not delay the listener.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.echoServer.StartServer(s.echoServer.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped unexpectedly", "error", err)
		}
	}()
	go s.chatApps.Initialize(ctx)
	return nil
}

// Shutdown drains in-flight requests, stops the conversation registry, and
// closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	s.manager.Close()

	if err := s.chatApps.Close(); err != nil {
		slog.Error("failed to close chat channels", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("hearth stopped properly")
}

// Addr reports the bound listen address.
func (s *Server) Addr() string {
	if s.echoServer.Listener == nil {
		return ""
	}
	return s.echoServer.Listener.Addr().String()
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"mode":    s.Profile.Mode,
		"version": version.GetCurrentVersion(s.Profile.Mode),
	})
}

// dialHost maps a listen address to one the in-process stub client can dial.
// An empty listen address binds every interface, so loopback works.
func dialHost(addr string) string {
	if addr == "" {
		return "127.0.0.1"
	}
	return addr
}

func boundPort(ln net.Listener) int {
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// requestLogger logs one line per request through slog. Health and metrics
// probes are skipped to keep the log readable.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz" || c.Path() == "/metrics"
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}
