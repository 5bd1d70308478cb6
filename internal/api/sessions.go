package api

import (
	"net/http"
	"strconv"

	"github.com/banshee-data/shapemodel/internal/editor"
	"github.com/banshee-data/shapemodel/internal/httputil"
)

type createSessionRequest struct {
	ModelID   string `json:"model_id"`
	Landmarks bool   `json:"landmarks,omitempty"`
}

type coefficientEdit struct {
	Index *int    `json:"index"`
	Value float64 `json:"value"`
}

type pointEdit struct {
	Point    *int        `json:"point,omitempty"`
	Position *[3]float64 `json:"position,omitempty"`
}

// SolveResponse is the session snapshot after a solve plus solver details.
type SolveResponse struct {
	editor.Snapshot
	ObservedPoints int     `json:"observed_points"`
	RCond          float64 `json:"rcond"`
}

// PinResponse reports which point a position-based toggle acted on.
type PinResponse struct {
	editor.Snapshot
	Point  int  `json:"point"`
	Pinned bool `json:"pinned"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req createSessionRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.ModelID == "" {
		httputil.BadRequest(w, "model_id is required")
		return
	}
	sess, err := s.sessions.Create(req.ModelID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Landmarks {
		if _, err := s.sessions.LoadLandmarks(sess); err != nil {
			writeError(w, err)
			return
		}
		if err := s.sessions.Record(sess, "landmarks"); err != nil {
			writeError(w, err)
			return
		}
	}
	httputil.WriteJSONCreated(w, sess.Snapshot())
}

// handleSessionByID routes /api/sessions/{id}[/action[/sub]]
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/sessions/")
	if len(parts) == 0 || len(parts) > 3 {
		httputil.NotFound(w, "not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.sessions.Delete(id); err != nil {
			writeError(w, err)
			return
		}
		httputil.NoContent(w)
		return
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, sess.Snapshot())
		return
	}

	action := parts[1]
	if len(parts) == 3 {
		if action != "landmarks" || parts[2] != "predefined" {
			httputil.NotFound(w, "not found")
			return
		}
		action = "landmarks/predefined"
	}

	switch action {
	case "history":
		s.handleHistory(w, r, id)
	case "chart":
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		s.handleSessionChart(w, sess)
	case "coefficient":
		s.handleSetCoefficient(w, r, sess)
	case "move":
		s.handleMovePoint(w, r, sess)
	case "landmarks":
		s.handleLandmarks(w, r, sess)
	case "landmarks/predefined":
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		if _, err := s.sessions.LoadLandmarks(sess); err != nil {
			writeError(w, err)
			return
		}
		s.record(w, sess, "landmarks")
	case "solve":
		s.handleSolve(w, r, sess)
	case "revert", "random", "reset":
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		switch action {
		case "revert":
			sess.RevertMoves()
		case "random":
			sess.Randomize()
		case "reset":
			sess.Reset()
		}
		s.record(w, sess, action)
	default:
		httputil.NotFound(w, "unknown action "+action)
	}
}

// record persists the session after an edit and responds with its snapshot.
func (s *Server) record(w http.ResponseWriter, sess *editor.Session, kind string) {
	if err := s.sessions.Record(sess, kind); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sess.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	entries, err := s.sessions.History(id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, entries)
}

func (s *Server) handleSetCoefficient(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req coefficientEdit
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Index == nil {
		httputil.BadRequest(w, "index is required")
		return
	}
	if _, err := sess.SetCoefficient(*req.Index, req.Value); err != nil {
		writeError(w, err)
		return
	}
	s.record(w, sess, "coefficient")
}

func (s *Server) handleMovePoint(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	var req pointEdit
	switch r.Method {
	case http.MethodPost:
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if req.Point == nil || req.Position == nil {
			httputil.BadRequest(w, "point and position are required")
			return
		}
		if err := sess.MovePoint(*req.Point, *req.Position); err != nil {
			writeError(w, err)
			return
		}
	case http.MethodDelete:
		p, err := strconv.Atoi(r.URL.Query().Get("point"))
		if err != nil {
			httputil.BadRequest(w, "point query parameter must be an integer")
			return
		}
		if err := sess.ResetPoint(p); err != nil {
			writeError(w, err)
			return
		}
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	// Moves are not persisted until a solve turns them into landmarks.
	httputil.WriteJSONOK(w, sess.Snapshot())
}

func (s *Server) handleLandmarks(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, sess.Landmarks())
	case http.MethodPost:
		var req pointEdit
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		switch {
		case req.Point != nil && req.Position != nil:
			if err := sess.PinAt(*req.Point, *req.Position); err != nil {
				writeError(w, err)
				return
			}
		case req.Point != nil:
			if err := sess.Pin(*req.Point); err != nil {
				writeError(w, err)
				return
			}
		case req.Position != nil:
			p, pinned := sess.PinNearest(*req.Position)
			if err := s.sessions.Record(sess, "landmarks"); err != nil {
				writeError(w, err)
				return
			}
			httputil.WriteJSONOK(w, PinResponse{Snapshot: sess.Snapshot(), Point: p, Pinned: pinned})
			return
		default:
			httputil.BadRequest(w, "point or position is required")
			return
		}
		s.record(w, sess, "landmarks")
	case http.MethodDelete:
		if q := r.URL.Query().Get("point"); q != "" {
			p, err := strconv.Atoi(q)
			if err != nil {
				httputil.BadRequest(w, "point query parameter must be an integer")
				return
			}
			sess.Unpin(p)
		} else {
			sess.ClearLandmarks()
		}
		s.record(w, sess, "landmarks")
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request, sess *editor.Session) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	post, err := sess.Solve(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.sessions.Record(sess, "solve"); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, SolveResponse{
		Snapshot:       sess.Snapshot(),
		ObservedPoints: post.Points,
		RCond:          post.RCond,
	})
}
