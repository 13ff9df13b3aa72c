package httpserver

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aininja-pro/cora-voice/internal/command"
	"github.com/aininja-pro/cora-voice/internal/dashboard"
	"github.com/aininja-pro/cora-voice/internal/dispatch"
)

type processCommandRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

type processCommandResponse struct {
	Kind    string          `json:"kind"`
	Status  string          `json:"status"`
	Title   string          `json:"title,omitempty"`
	Contact string          `json:"contact,omitempty"`
	Actions []string        `json:"actions,omitempty"`
	Error   string          `json:"error,omitempty"`
	Command command.Command `json:"command"`
}

// handleProcessCommand classifies and dispatches one text command. The
// structured parse path is tried first; parser failure falls back to the
// free-text rules so the endpoint still works without the model.
func (s *Server) handleProcessCommand(c echo.Context) error {
	if !authOK(c.Request(), s.deps.AuthPassword) {
		return c.String(http.StatusUnauthorized, "unauthorized")
	}
	var req processCommandRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "invalid request")
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.String(http.StatusBadRequest, "text is required")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "api"
	}

	var fc *command.FunctionCall
	if s.deps.Parser != nil {
		parsed, err := s.deps.Parser.ParseCommand(c.Request().Context(), req.Text)
		if err != nil {
			log.Printf("[%s] command parse failed, falling back to rules: %v", sessionID, err)
		} else {
			fc = parsed
		}
	}
	cmd := command.Classify(fc, req.Text)

	act, err := s.deps.Dispatcher.Dispatch(c.Request().Context(), sessionID, cmd)
	resp := processCommandResponse{
		Kind:    string(cmd.Kind),
		Status:  string(act.Status),
		Title:   cmd.Title,
		Contact: cmd.Contact,
		Actions: cmd.Actions,
		Command: cmd,
	}
	if err != nil {
		resp.Error = err.Error()
		if errors.Is(err, dispatch.ErrAmbiguous) {
			return c.JSON(http.StatusUnprocessableEntity, resp)
		}
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

type tasksResponse struct {
	Urgent []dashboard.Item `json:"urgent"`
	Queue  []dashboard.Item `json:"queue"`
}

func (s *Server) handleTasks(c echo.Context) error {
	urgent, queue := s.deps.Store.Snapshot()
	return c.JSON(http.StatusOK, tasksResponse{Urgent: urgent, Queue: queue})
}

// handleTaskUpdates streams task-store changes to the dashboard over a
// websocket.
func (s *Server) handleTaskUpdates(c echo.Context) error {
	conn, err := streamUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	updates, cancel := s.deps.Store.Subscribe()
	defer cancel()

	// Detect client disconnects so the subscription is released.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if err := conn.WriteJSON(upd); err != nil {
				return nil
			}
		}
	}
}
