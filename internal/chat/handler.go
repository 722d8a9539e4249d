package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codehive/codehive/internal/auth"
	"github.com/codehive/codehive/internal/domain"
	"github.com/codehive/codehive/internal/store"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// AIMarker is the literal invocation marker scanned for in chat
// messages. Matching is a case-sensitive substring check, not a token
// boundary: "email@aidan.com" triggers it too. Accepted false-positive.
const AIMarker = "@ai"

var (
	// ErrInvalidRoom is returned when the projectId handshake parameter
	// is not a well-formed identifier.
	ErrInvalidRoom = errors.New("invalid projectId")

	// ErrRoomNotFound is returned when the projectId is well-formed but
	// no such project exists. Connecting to a ghost room is rejected.
	ErrRoomNotFound = errors.New("project not found")
)

// AIResponder handles one AI turn: generate, persist, broadcast. The
// call runs as an independent continuation; the router never waits on it.
type AIResponder interface {
	Respond(ctx context.Context, projectID, prompt string)
}

// Handler upgrades authenticated websocket connections into room sessions
// and routes their chat traffic.
type Handler struct {
	repo          store.Repository
	tokens        *auth.TokenService
	registry      *RoomRegistry
	responder     AIResponder // nil when AI is disabled
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new chat handler.
func NewHandler(repo store.Repository, tokens *auth.TokenService, registry *RoomRegistry, responder AIResponder, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		repo:          repo,
		tokens:        tokens,
		registry:      registry,
		responder:     responder,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements the handshake gate: a connection must present a
// valid bearer token and an existing project id before it may join the
// room. Failures reject this connection only.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	projectID := r.URL.Query().Get("projectId")
	if _, err := uuid.Parse(projectID); err != nil {
		slog.Warn("Rejected connection with malformed projectId", "project_id", projectID, "ip", r.RemoteAddr)
		http.Error(w, ErrInvalidRoom.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.Authenticate(r.Context(), h.tokens, h.repo, auth.TokenFromRequest(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		} else {
			slog.Error("Handshake authentication lookup failed", "error", err)
			http.Error(w, "authentication lookup failed", http.StatusInternalServerError)
		}
		return
	}

	// The project is loaded eagerly so later authorization context does
	// not need another lookup. A missing project fails the handshake.
	project, err := h.repo.GetProject(r.Context(), projectID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, ErrRoomNotFound.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Handshake project lookup failed", "error", err, "project_id", projectID)
		http.Error(w, "project lookup failed", http.StatusInternalServerError)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "email", user.Email)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "email", user.Email)
		}
	}()

	session := NewSession(project.ID, domain.ParticipantOf(user), ws)
	h.registry.Join(session)
	defer h.registry.Leave(session)

	h.readLoop(r.Context(), ws, session)
	slog.Info("Chat session ended", "project_id", project.ID, "email", user.Email)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, session *Session) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "email", session.Participant.Email)
			} else {
				slog.Warn("WebSocket read error", "error", err, "email", session.Participant.Email)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Debug("Dropping unparseable frame", "email", session.Participant.Email)
			continue
		}

		if frame.Event != MessageEvent {
			continue
		}
		h.onMessage(ctx, session, frame.Data)
	}
}

// onMessage is the per-message router: persist, broadcast to the whole
// room (sender included), then hand any AI invocation off as an
// independent continuation.
func (h *Handler) onMessage(ctx context.Context, session *Session, data json.RawMessage) {
	rawMessage, display := coerceMessage(data)

	msg := &domain.Message{
		ProjectID: session.ProjectID,
		SenderID:  session.Participant.ID,
		Body:      display,
		CreatedAt: time.Now(),
	}
	// Persistence failures are logged and swallowed: chat liveness takes
	// priority over durability.
	if err := h.repo.AppendMessage(ctx, msg); err != nil {
		slog.Error("Failed to save message", "error", err, "project_id", session.ProjectID)
	}

	h.registry.BroadcastMessage(session.ProjectID, rawMessage, domain.HumanSender(session.Participant))

	prompt, ok := ExtractPrompt(display)
	if !ok || h.responder == nil {
		return
	}

	// The AI turn outlives this message and is never cancelled by a
	// disconnecting client.
	go h.responder.Respond(context.WithoutCancel(ctx), session.ProjectID, prompt)
}

// coerceMessage turns an inbound payload into the raw passthrough value
// broadcast to the room and a display string used for persistence and
// marker scanning. Malformed payloads coerce rather than error.
func coerceMessage(data json.RawMessage) (json.RawMessage, string) {
	var payload struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Message) == 0 {
		return json.RawMessage(`""`), ""
	}

	var display string
	if err := json.Unmarshal(payload.Message, &display); err != nil {
		// Non-string payloads display as their JSON text.
		display = string(payload.Message)
	}
	return payload.Message, display
}

// ExtractPrompt scans for the AI invocation marker and, if present,
// returns the message with the first occurrence removed and surrounding
// whitespace trimmed.
func ExtractPrompt(display string) (string, bool) {
	idx := strings.Index(display, AIMarker)
	if idx < 0 {
		return "", false
	}
	prompt := display[:idx] + display[idx+len(AIMarker):]
	return strings.TrimSpace(prompt), true
}
