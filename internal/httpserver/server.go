package httpserver

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aininja-pro/cora-voice/internal/command"
	"github.com/aininja-pro/cora-voice/internal/dashboard"
	"github.com/aininja-pro/cora-voice/internal/dispatch"
	"github.com/aininja-pro/cora-voice/internal/rtc"
	"github.com/aininja-pro/cora-voice/internal/session"
	"github.com/aininja-pro/cora-voice/internal/telephony"
)

// CommandParser turns free text into a structured function call. Satisfied by
// *llm.OpenAIClient.
type CommandParser interface {
	ParseCommand(ctx context.Context, text string) (*command.FunctionCall, error)
}

// Deps are the collaborators the route handlers need.
type Deps struct {
	Manager      *session.Manager
	Dispatcher   *dispatch.Dispatcher
	Store        *dashboard.TaskStore
	RTC          *rtc.Handler
	Telephony    *telephony.Service
	Parser       CommandParser
	AuthPassword string
}

// Server bundles the echo router and its dependencies.
type Server struct {
	Echo *echo.Echo
	deps Deps
}

// New constructs the configured server with all routes registered.
func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{Echo: e, deps: deps}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/voice/stream", s.handleVoiceStream)
	e.POST("/rtc/offer", s.handleOffer)
	if deps.RTC != nil {
		e.GET("/rtc/signal", func(c echo.Context) error {
			deps.RTC.ServeWebSocket(c.Response(), c.Request(), deps.AuthPassword)
			return nil
		})
	}

	e.POST("/api/voice/process-command", s.handleProcessCommand)
	e.GET("/api/tasks", s.handleTasks)
	e.GET("/api/tasks/stream", s.handleTaskUpdates)

	if deps.Telephony != nil {
		deps.Telephony.RegisterHandlers(e)
	}

	return s
}

func (s *Server) handleOffer(c echo.Context) error {
	if !authOK(c.Request(), s.deps.AuthPassword) {
		return c.String(http.StatusUnauthorized, "unauthorized")
	}
	if s.deps.RTC == nil {
		return c.String(http.StatusNotFound, "webrtc disabled")
	}
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		log.Printf("invalid offer: %v", err)
		return c.String(http.StatusBadRequest, "invalid offer")
	}
	answer, err := s.deps.RTC.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		log.Printf("webrtc handle offer failed: %v", err)
		return c.String(http.StatusInternalServerError, "offer failed")
	}
	return c.JSON(http.StatusOK, answer)
}

// authOK checks ?password=, X-Auth-Token, or Authorization: Bearer. An empty
// expected password disables auth.
func authOK(r *http.Request, expected string) bool {
	if expected == "" {
		return true
	}
	if r == nil {
		return false
	}
	if r.URL.Query().Get("password") == expected {
		return true
	}
	if r.Header.Get("X-Auth-Token") == expected {
		return true
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return auth[7:] == expected
	}
	return false
}
