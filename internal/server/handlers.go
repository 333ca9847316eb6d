package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"attendsync/internal/attendance"
	"attendsync/internal/backend"
	"attendsync/internal/broadcast"
	"attendsync/internal/db"
	"attendsync/internal/events"
	"attendsync/internal/optimistic"
	"attendsync/internal/wshub"
)

type Server struct {
	Orchestrator *attendance.Orchestrator
	Cache        *optimistic.Cache
	Hub          *wshub.Hub
	DB           *db.DB // nil if no database configured
}

type actionFunc func(context.Context, attendance.Request) (attendance.Result, error)

// actionBody is the optional JSON body of check-in and mark-absent. A
// missing classStart is looked up from the user's class list.
type actionBody struct {
	ClassStart        time.Time `json:"classStart"`
	EnrolledCourseIDs []string  `json:"enrolledCourseIDs"`
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	classes, err := s.Cache.Get(r.Context(), userID)
	if err != nil {
		log.Printf("[Server] Listing classes for %s: %v\n", userID, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "could not load classes"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"classes": classes})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, backend.StatusPresent, s.Orchestrator.CheckIn)
}

func (s *Server) handleMarkAbsent(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, backend.StatusAbsent, s.Orchestrator.MarkAbsent)
}

// handleAction wraps run in the cache cycle. target is the status the class
// is shown with until the action settles.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, target backend.AttendanceStatus, run actionFunc) {
	userID := r.PathValue("user")
	classID := r.PathValue("class")

	var body actionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	req := attendance.Request{
		UserID:            userID,
		ClassID:           classID,
		ClassStart:        body.ClassStart,
		EnrolledCourseIDs: body.EnrolledCourseIDs,
	}
	if req.ClassStart.IsZero() {
		req.ClassStart = s.classStart(r.Context(), userID, classID)
	}

	// The running action owns the cached guess and its rollback, so a
	// duplicate leaves the list alone and gets rejected by the orchestrator.
	if s.Orchestrator.InFlight(classID) {
		res, err := run(r.Context(), req)
		if !errors.Is(err, attendance.ErrActionInProgress) {
			s.Cache.OnActionSettle(userID, classID)
		}
		writeJSON(w, statusFor(err), res)
		return
	}

	snap := s.Cache.OnActionStart(userID, classID, target)
	res, err := run(r.Context(), req)
	if err != nil {
		s.Cache.OnActionError(classID, snap)
	}
	s.Cache.OnActionSettle(userID, classID)

	writeJSON(w, statusFor(err), res)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	res, err := s.Orchestrator.Resync(r.Context(), userID)
	s.Cache.OnActionSettle(userID, "")
	writeJSON(w, statusFor(err), res)
}

// classStart finds the scheduled start of classID in the user's list, or the
// zero time if it is not there.
func (s *Server) classStart(ctx context.Context, userID, classID string) time.Time {
	classes, err := s.Cache.Get(ctx, userID)
	if err != nil {
		log.Printf("[Server] Looking up class %s for %s: %v\n", classID, userID, err)
		return time.Time{}
	}
	for _, c := range classes {
		if c.ClassID == classID {
			return c.StartTime
		}
	}
	return time.Time{}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("[WSHub] Accept error: %v\n", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &wshub.Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 16),
	}
	s.Hub.Register(client)
	defer s.Hub.Unregister(client.ID)
	go client.WritePump(ctx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg wshub.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Hub.Reply(client.ID, wshub.ServerMessage{Type: "error", Message: "invalid message"})
			continue
		}
		switch msg.Type {
		case "ping":
			s.Hub.Reply(client.ID, wshub.ServerMessage{Type: "pong"})
		case "refresh":
			s.sendClasses(ctx, client.ID, userID)
		default:
			s.Hub.Reply(client.ID, wshub.ServerMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

func (s *Server) sendClasses(ctx context.Context, clientID, userID string) {
	classes, err := s.Cache.Get(ctx, userID)
	if err != nil {
		s.Hub.Reply(clientID, wshub.ServerMessage{Type: "error", Message: "could not load classes"})
		return
	}
	msg, err := broadcast.Encode(events.ClassListEvent{Kind: events.Refreshed, UserID: userID, Classes: classes})
	if err != nil {
		log.Printf("[WSHub] Encoding classes for %s: %v\n", userID, err)
		return
	}
	s.Hub.SendTo(clientID, msg.Data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.DB != nil {
		if err := s.DB.PingContext(r.Context()); err != nil {
			status = "db_error"
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": status, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, attendance.ErrActionInProgress):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrInvalidRequest):
		return http.StatusBadRequest
	case attendance.KindOf(err) == attendance.KindSourceMutation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Writing response: %v\n", err)
	}
}
