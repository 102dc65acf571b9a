// Package api serves surprisal scoring over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/surprisal/internal/logger"
	"github.com/samcharles93/surprisal/internal/model"
	"github.com/samcharles93/surprisal/internal/run"
	"github.com/samcharles93/surprisal/internal/score"
	"github.com/samcharles93/surprisal/internal/version"
)

// maxStimuli bounds one request.
const maxStimuli = 1024

type Config struct {
	Provider model.Provider
	// Primary is the default primary decoder for requests that omit one.
	Primary          model.Family
	IncludeFollowing bool
	Device           model.Device
	// MaxModels bounds the resident models; zero means DefaultMaxModels.
	MaxModels int
	Log       logger.Logger
}

type Server struct {
	cfg    Config
	models *ModelCache
	log    logger.Logger
	clock  func() time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.Primary == 0 {
		cfg.Primary = model.Masked
	}
	if cfg.Device == "" {
		cfg.Device = model.DeviceAuto
	}
	log := cfg.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		cfg:    cfg,
		models: NewModelCache(cfg.Provider, cfg.Device, cfg.MaxModels),
		log:    log,
		clock:  time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/surprisal", s.handleSurprisal)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
}

// Close releases every model loaded by the server.
func (s *Server) Close() error { return s.models.Close() }

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       version.Resolve(),
		"loaded_models": s.models.Len(),
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	list := ModelList{Object: "list", Data: []ModelInfo{}}
	lister, ok := s.cfg.Provider.(model.Lister)
	if !ok {
		return c.JSON(http.StatusOK, list)
	}
	ids, err := lister.List(c.Request().Context())
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	for _, id := range ids {
		list.Data = append(list.Data, ModelInfo{ID: id, Object: "model", OwnedBy: "local"})
	}
	return c.JSON(http.StatusOK, list)
}

type scoreOptions struct {
	ref              model.Ref
	primary          model.Family
	includeFollowing bool
	metrics          []score.Metric
}

func (s *Server) parseRequest(req SurprisalRequest) (scoreOptions, error) {
	opts := scoreOptions{
		primary:          s.cfg.Primary,
		includeFollowing: s.cfg.IncludeFollowing,
		metrics:          []score.Metric{score.Surprisal},
	}
	id := strings.TrimSpace(req.Model)
	if id == "" {
		return opts, newInvalidRequest("model", "model is required")
	}
	rev := strings.TrimSpace(req.Revision)
	if rev == "" {
		rev = model.LatestRevision
	}
	opts.ref = model.Ref{ID: id, Revision: rev}

	if len(req.Stimuli) == 0 {
		return opts, newInvalidRequest("stimuli", "stimuli is required and must not be empty")
	}
	if len(req.Stimuli) > maxStimuli {
		return opts, newInvalidRequest("stimuli", "too many stimuli in one request")
	}
	if req.PrimaryDecoder != "" {
		f, err := model.ParsePrimary(req.PrimaryDecoder)
		if err != nil {
			return opts, newInvalidRequest("primary_decoder", err.Error())
		}
		opts.primary = f
	}
	if req.FollowingContext != nil {
		opts.includeFollowing = *req.FollowingContext
	}
	if len(req.Metrics) > 0 {
		metrics, ignored := score.ParseMetrics(req.Metrics)
		if len(ignored) > 0 {
			return opts, newInvalidRequest("metrics", "unknown metric "+strings.Join(ignored, ", "))
		}
		opts.metrics = metrics
	}
	return opts, nil
}

func (s *Server) handleSurprisal(c *echo.Context) error {
	if s.cfg.Provider == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "model provider not configured", "", "")
	}
	req, err := decodeJSON[SurprisalRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "", err.Error())
	}
	opts, err := s.parseRequest(req)
	if err != nil {
		var inv invalidRequestError
		if errors.As(err, &inv) {
			return writeBadRequest(c, inv.param, inv.msg)
		}
		return writeBadRequest(c, "", err.Error())
	}

	ctx := c.Request().Context()
	reqID := "surp_" + uuid.NewString()
	log := s.log.With("request_id", reqID, "model", opts.ref.ID, "revision", opts.ref.Revision)
	resp := SurprisalResponse{
		ID:       reqID,
		Object:   "surprisal",
		Created:  s.clock().Unix(),
		Model:    opts.ref.ID,
		Revision: opts.ref.Revision,
	}

	err = s.models.WithModel(ctx, opts.ref, opts.primary, func(lm *model.LoadedModel) error {
		resp.Family = lm.Family().String()
		resp.Device = string(lm.Device)
		resp.Results = make([]StimulusResult, 0, len(req.Stimuli))
		for i, stim := range req.Stimuli {
			if err := ctx.Err(); err != nil {
				return err
			}
			resp.Results = append(resp.Results, scoreOne(ctx, lm, i, stim, opts, req.Tokens, log))
		}
		return nil
	})
	if err != nil {
		return s.writeLoadError(c, opts.ref, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func scoreOne(ctx context.Context, lm *model.LoadedModel, index int, stimulus string, opts scoreOptions, tokens bool, log logger.Logger) StimulusResult {
	out := StimulusResult{Index: index, Stimulus: stimulus}
	row, span, err := run.ScoreLine(ctx, lm, stimulus, opts.includeFollowing)
	if err != nil {
		log.Debug("stimulus failed", "index", index, "stimulus", stimulus, "err", err)
		out.Error = &ResponseError{Message: err.Error(), Type: "stimulus_error"}
		return out
	}
	out.FullSentence = row.FullSentence
	out.Sentence = row.Sentence
	out.Target = row.Target
	out.NumTokens = row.NumTokens
	out.Values = make(map[string]float64, len(opts.metrics))
	for _, m := range opts.metrics {
		v, err := span.Value(m)
		if err != nil {
			out.Error = &ResponseError{Message: err.Error(), Type: "stimulus_error"}
			return out
		}
		out.Values[m.String()] = v
	}
	if tokens {
		out.Tokens = make([]TokenResult, 0, len(span.Tokens))
		for _, t := range span.Tokens {
			text, _ := lm.Tokenizer.TokenString(t.ID)
			out.Tokens = append(out.Tokens, TokenResult{ID: t.ID, Token: text, Probability: t.Probability, Surprisal: t.Surprisal})
		}
	}
	return out
}

func (s *Server) writeLoadError(c *echo.Context, ref model.Ref, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusServiceUnavailable, "server_error", err.Error(), "", "canceled")
	case errors.Is(err, model.ErrTokenizer):
		s.log.Warn("model load failed", "model", ref.ID, "revision", ref.Revision, "err", err)
		return writeError(c, http.StatusUnprocessableEntity, "model_error", err.Error(), "model", "tokenizer")
	case errors.Is(err, model.ErrNoArchitecture):
		s.log.Warn("model load failed", "model", ref.ID, "revision", ref.Revision, "err", err)
		return writeError(c, http.StatusUnprocessableEntity, "model_error", err.Error(), "model", "architecture")
	default:
		s.log.Error("scoring failed", "model", ref.ID, "err", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}

func writeBadRequest(c *echo.Context, param, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param, "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
