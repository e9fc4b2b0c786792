package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opentalon/commandcenter/internal/actor"
)

// Message types accepted on /ws.
const (
	MsgExecute  = "execute"
	MsgWorkflow = "workflow"
	MsgSuggest  = "suggest"
)

// WSRequest is one client frame. ID is echoed in the reply.
type WSRequest struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Command  string         `json:"command,omitempty"`
	Workflow string         `json:"workflow,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Query    string         `json:"query,omitempty"`
}

// WSResponse carries either Result or Error.
type WSResponse struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleWS serves one connection. Each connection is its own NLU session,
// and frames are answered in order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	session := uuid.NewString()
	ctx := actor.WithSession(r.Context(), session)
	log := s.logger.With(zap.String("session", session))
	log.Debug("websocket connected")

	for {
		var req WSRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug("websocket read", zap.Error(err))
			}
			return
		}
		if err := wsjson.Write(ctx, conn, s.answer(ctx, req)); err != nil {
			log.Debug("websocket write", zap.Error(err))
			return
		}
	}
}

func (s *Server) answer(ctx context.Context, req WSRequest) WSResponse {
	resp := WSResponse{ID: req.ID, Type: req.Type}
	switch req.Type {
	case MsgExecute:
		if req.Command == "" {
			resp.Error = "No command provided"
			break
		}
		resp.Result = s.backend.ResolveAndDispatch(ctx, req.Command)
	case MsgWorkflow:
		if req.Workflow == "" {
			resp.Error = "Missing workflow name"
			break
		}
		resp.Result = s.backend.RunWorkflow(ctx, req.Workflow, req.Payload)
	case MsgSuggest:
		suggestions := s.backend.Suggestions(req.Query)
		if suggestions == nil {
			suggestions = []string{}
		}
		resp.Result = suggestions
	default:
		resp.Error = "unknown message type " + strconv.Quote(req.Type)
	}
	return resp
}
