// Package overlay serves the browser source pages and pushes rendered
// frames to them over a websocket.
package overlay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/genricoloni/synest-overlay/internal/display"
	"github.com/genricoloni/synest-overlay/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	g "maragu.dev/gomponents"
)

const (
	defaultTick  = time.Second
	writeTimeout = 5 * time.Second
)

// Server is the overlay HTTP server
type Server struct {
	logger *zap.Logger
	cfg    domain.Config
	source domain.StateSource
	banner domain.BannerStore
	echo   *echo.Echo

	// base is the parent of every request context so Stop can end sockets
	base       context.Context
	cancelBase context.CancelFunc

	// now and tick are swapped in tests
	now  func() time.Time
	tick time.Duration
}

// NewServer creates the server and registers its routes
func NewServer(logger *zap.Logger, cfg domain.Config, source domain.StateSource, banner domain.BannerStore) *Server {
	s := &Server{
		logger: logger,
		cfg:    cfg,
		source: source,
		banner: banner,
		echo:   echo.New(),
		now:    time.Now,
		tick:   defaultTick,
	}

	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.echo.Server.BaseContext = func(net.Listener) context.Context { return s.base }
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			}
			if v.Error != nil {
				s.logger.Warn("Request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			s.logger.Debug("Request served", fields...)
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)
	s.echo.GET("/", s.landing)
	s.echo.POST("/banner/dismiss", s.dismissBanner)
	s.echo.GET("/:discord_id", s.overlay)
	s.echo.GET("/:discord_id/ws", s.socket)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.GetListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.GetListenAddr(), err)
	}
	s.echo.Listener = ln

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Overlay server stopped unexpectedly", zap.Error(err))
		}
	}()

	s.logger.Info("Overlay server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", "/"+s.cfg.GetUserID()))
	return nil
}

// Addr returns the bound address once Start has succeeded
func (s *Server) Addr() string {
	if s.echo.Listener == nil {
		return ""
	}
	return s.echo.Listener.Addr().String()
}

// Stop shuts the server down, closing open sockets
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Overlay server stopping...")
	s.cancelBase()
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) landing(c echo.Context) error {
	dismissed, err := s.banner.Dismissed()
	if err != nil {
		// An unreadable flag should not hide the page
		s.logger.Warn("Failed to read banner flag", zap.Error(err))
	}
	return s.render(c, landingPage(!dismissed, s.cfg.GetUserID()))
}

func (s *Server) dismissBanner(c echo.Context) error {
	if err := s.banner.Dismiss(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not store banner state").SetInternal(err)
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) overlay(c echo.Context) error {
	if err := s.checkUser(c); err != nil {
		return err
	}

	opts := display.ParseOptions(c.QueryParams())
	view := display.Build(s.source.Current(), opts, s.now())

	socketPath := "/" + s.cfg.GetUserID() + "/ws"
	if q := opts.Encode(); q != "" {
		socketPath += "?" + q
	}
	return s.render(c, overlayPage(view, socketPath))
}

// socket pushes a fresh frame on every state change, and once per tick
// while the active track has a known start and end
func (s *Server) socket(c echo.Context) error {
	if err := s.checkUser(c); err != nil {
		return err
	}
	opts := display.ParseOptions(c.QueryParams())

	// OBS loads browser sources from arbitrary origins
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("Failed to upgrade overlay socket", zap.Error(err))
		return nil
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request().Context())

	states, cancel := s.source.Subscribe()
	defer cancel()

	s.logger.Debug("Overlay socket connected", zap.String("remote", c.RealIP()))
	err = s.push(ctx, conn, states, opts)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1:
		s.logger.Debug("Overlay socket closed", zap.Error(err))
	default:
		s.logger.Warn("Overlay socket failed", zap.Error(err))
	}
	return nil
}

func (s *Server) push(ctx context.Context, conn *websocket.Conn, states <-chan domain.State, opts display.Options) error {
	var (
		current domain.State
		ticker  *track
	)
	defer func() { ticker.stop() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case st, ok := <-states:
			if !ok {
				return nil
			}
			current = st
			if !opts.Text {
				ticker = ticker.follow(current.Music, s.tick)
			}

		case <-ticker.C():
		}

		if err := s.send(ctx, conn, current, opts); err != nil {
			return err
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, st domain.State, opts display.Options) error {
	var buf bytes.Buffer
	if err := widget(display.Build(st, opts, s.now())).Render(&buf); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, buf.Bytes())
}

func (s *Server) checkUser(c echo.Context) error {
	if c.Param("discord_id") != s.cfg.GetUserID() {
		return echo.NewHTTPError(http.StatusNotFound, "unknown user")
	}
	return nil
}

func (s *Server) render(c echo.Context, n g.Node) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return n.Render(c.Response())
}
