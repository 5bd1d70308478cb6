package api

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/banshee-data/shapemodel/internal/db"
	"github.com/banshee-data/shapemodel/internal/httputil"
	"github.com/banshee-data/shapemodel/internal/ssm"
)

// CreateModelRequest is the body of POST /api/models: the plain arrays of
// ssm.Load plus optional predefined landmarks.
type CreateModelRequest struct {
	Name string `json:"name"`
	ssm.ModelData
	Landmarks []db.Landmark `json:"landmarks,omitempty"`
}

// ModelDetail is the body of GET /api/models/{id}.
type ModelDetail struct {
	db.ModelRecord
	Variance          []float64     `json:"variance"`
	ExplainedVariance []float64     `json:"explained_variance"`
	Cumulative        []float64     `json:"cumulative_variance"`
	Landmarks         []db.Landmark `json:"landmarks"`
}

type evaluateRequest struct {
	Coefficients []float64 `json:"coefficients"`
}

type coefficientsRequest struct {
	Shape []float64 `json:"shape"`
}

// PosteriorRequest carries observations either as flat coordinate
// indices and values or as whole points keyed by point index.
type PosteriorRequest struct {
	Indices    []int              `json:"indices,omitempty"`
	Values     []float64          `json:"values,omitempty"`
	Points     map[int][3]float64 `json:"points,omitempty"`
	Regularize bool               `json:"regularize,omitempty"`
}

type sampleRequest struct {
	Mode string `json:"mode"`
	Seed *int64 `json:"seed,omitempty"`
}

// ShapeResponse is returned by the evaluate, posterior and sample routes.
type ShapeResponse struct {
	Coefficients []float64 `json:"coefficients"`
	Shape        []float64 `json:"shape"`
	Points       int       `json:"observed_points,omitempty"`
	RCond        float64   `json:"rcond,omitempty"`
}

// handleModels handles GET and POST to /api/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		models, err := s.db.ListModels()
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, models)
	case http.MethodPost:
		s.handleCreateModel(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req CreateModelRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name is required")
		return
	}
	model, err := ssm.LoadData(req.ModelData)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, l := range req.Landmarks {
		if l.PointIndex < 0 || l.PointIndex >= model.PointCount() {
			httputil.BadRequest(w, fmt.Sprintf("landmark %q: point %d out of range", l.Name, l.PointIndex))
			return
		}
	}

	rec, err := s.db.SaveModel(req.Name, model)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.Landmarks) > 0 {
		if err := s.db.SaveLandmarks(rec.ID, req.Landmarks); err != nil {
			writeError(w, err)
			return
		}
	}
	httputil.WriteJSONCreated(w, rec)
}

// handleModelByID routes /api/models/{id}[/action]
func (s *Server) handleModelByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/models/")
	if len(parts) == 0 || len(parts) > 2 {
		httputil.NotFound(w, "not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetModel(w, id)
		case http.MethodDelete:
			if err := s.db.DeleteModel(id); err != nil {
				writeError(w, err)
				return
			}
			s.sessions.ForgetModel(id)
			httputil.NoContent(w)
		default:
			httputil.MethodNotAllowed(w)
		}
		return
	}

	action := parts[1]
	if action == "spectrum" {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		s.handleSpectrumChart(w, id)
		return
	}
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	model, err := s.sessions.Model(id)
	if err != nil {
		writeError(w, err)
		return
	}
	switch action {
	case "evaluate":
		s.handleEvaluate(w, r, model)
	case "coefficients":
		s.handleCoefficients(w, r, model)
	case "posterior":
		s.handlePosterior(w, r, model)
	case "sample":
		s.handleSample(w, r, model)
	default:
		httputil.NotFound(w, "unknown action "+action)
	}
}

func (s *Server) handleGetModel(w http.ResponseWriter, id string) {
	model, rec, err := s.db.LoadModel(id)
	if err != nil {
		writeError(w, err)
		return
	}
	landmarks, err := s.db.Landmarks(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if landmarks == nil {
		landmarks = []db.Landmark{}
	}
	fraction, cumulative := model.ExplainedVariance()
	httputil.WriteJSONOK(w, ModelDetail{
		ModelRecord:       *rec,
		Variance:          model.Variance(),
		ExplainedVariance: fraction,
		Cumulative:        cumulative,
		Landmarks:         landmarks,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request, model *ssm.ShapeModel) {
	var req evaluateRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	shape, err := ssm.Evaluate(model, req.Coefficients)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ShapeResponse{Coefficients: req.Coefficients, Shape: shape})
}

func (s *Server) handleCoefficients(w http.ResponseWriter, r *http.Request, model *ssm.ShapeModel) {
	var req coefficientsRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	alpha, err := ssm.CoefficientsFromShapeWithOptions(model, req.Shape, s.cfg.SolverOptions())
	if err != nil {
		writeError(w, err)
		return
	}
	// Reconstruct so clients see the in-span projection of their shape.
	shape, err := ssm.Evaluate(model, alpha)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ShapeResponse{Coefficients: alpha, Shape: shape})
}

// Observations builds the observation set described by the request.
func (req PosteriorRequest) Observations(dim int) (ssm.ObservationSet, error) {
	if len(req.Points) > 0 {
		if len(req.Indices) > 0 || len(req.Values) > 0 {
			return ssm.ObservationSet{}, fmt.Errorf("%w: give either points or indices/values", ssm.ErrInvalidObservation)
		}
		return ssm.ObservePoints(dim, req.Points)
	}
	if len(req.Indices) == 0 && len(req.Values) == 0 {
		return ssm.ObservationSet{}, nil
	}
	return ssm.NewObservationSet(dim, req.Indices, req.Values)
}

func (s *Server) handlePosterior(w http.ResponseWriter, r *http.Request, model *ssm.ShapeModel) {
	var req PosteriorRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	obs, err := req.Observations(model.Dim())
	if err != nil {
		writeError(w, err)
		return
	}
	if limit := s.cfg.GetMaxObservedPoints(); limit > 0 && obs.Len()/3 > limit {
		httputil.BadRequest(w, fmt.Sprintf("%d observed points exceeds limit %d", obs.Len()/3, limit))
		return
	}
	if req.Regularize {
		model = model.Regularized(s.cfg.GetRegularizationEpsilon())
	}

	ctx := r.Context()
	if timeout := s.cfg.GetSolveTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var post ssm.Posterior
	select {
	case res := <-ssm.SolveAsync(model, obs, s.cfg.SolverOptions()):
		post, err = res.Posterior, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ShapeResponse{
		Coefficients: post.Coefficients,
		Shape:        post.Shape,
		Points:       post.Points,
		RCond:        post.RCond,
	})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request, model *ssm.ShapeModel) {
	var req sampleRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	mode, err := ssm.ParseCoefficientMode(req.Mode)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}
	alpha := ssm.GenerateCoefficients(model, mode, rand.New(rand.NewSource(seed)))
	shape, err := ssm.Evaluate(model, alpha)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ShapeResponse{Coefficients: alpha, Shape: shape})
}
