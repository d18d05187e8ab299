package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/pesio-ai/be-discipline-placements/internal/domain"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/errors"
	"github.com/pesio-ai/be-discipline-placements/internal/platform/logger"
)

const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"

	maxBodyBytes = 1 << 20
)

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	ops   map[string]operation
	store Pinger
	log   *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, store Pinger, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		ops:   svc.operations(),
		store: store,
		log:   log.Component("http_handler"),
	}
}

type route struct {
	pattern string
	op      string
	status  int
}

// Path wildcards are named after the request fields they fill.
var routes = []route{
	{"POST /api/v1/placements/incidents", "RegisterIncident", http.StatusCreated},
	{"GET /api/v1/placements/incidents/{incident_id}", "GetIncident", http.StatusOK},
	{"POST /api/v1/placements/incidents/{incident_id}/submit", "SubmitPlacement", http.StatusOK},
	{"GET /api/v1/placements/incidents/{incident_id}/capabilities", "GetCapabilities", http.StatusOK},
	{"POST /api/v1/placements/incidents/{incident_id}/approve", "ApproveIncident", http.StatusOK},
	{"POST /api/v1/placements/incidents/{incident_id}/activate", "ActivatePlacement", http.StatusOK},
	{"POST /api/v1/placements/incidents/{incident_id}/complete", "CompletePlacement", http.StatusOK},
	{"GET /api/v1/placements/incidents/{incident_id}/history", "GetHistory", http.StatusOK},
	{"POST /api/v1/placements/incidents/{incident_id}/chain", "CreateChain", http.StatusCreated},
	{"GET /api/v1/placements/incidents/{incident_id}/chain", "GetChainByIncident", http.StatusOK},
	{"POST /api/v1/placements/incidents/{incident_id}/checklist", "CreateChecklist", http.StatusCreated},
	{"GET /api/v1/placements/incidents/{incident_id}/checklist", "GetChecklistByIncident", http.StatusOK},
	{"POST /api/v1/placements/capabilities", "EvaluateCapabilities", http.StatusOK},
	{"GET /api/v1/placements/chains/{chain_id}", "GetChain", http.StatusOK},
	{"POST /api/v1/placements/chains/{chain_id}/resubmit", "Resubmit", http.StatusOK},
	{"GET /api/v1/placements/steps/pending", "ListPendingSteps", http.StatusOK},
	{"POST /api/v1/placements/steps/{step_id}/approve", "ApproveStep", http.StatusOK},
	{"POST /api/v1/placements/steps/{step_id}/deny", "DenyStep", http.StatusOK},
	{"POST /api/v1/placements/steps/{step_id}/return", "ReturnStep", http.StatusOK},
	{"GET /api/v1/placements/checklists/{checklist_id}", "GetChecklist", http.StatusOK},
	{"POST /api/v1/placements/checklists/{checklist_id}/items/{field}/toggle", "ToggleItem", http.StatusOK},
	{"POST /api/v1/placements/checklists/{checklist_id}/manifestation", "SetManifestationResult", http.StatusOK},
	{"POST /api/v1/placements/checklists/{checklist_id}/override", "OverrideBlock", http.StatusOK},
	{"POST /api/v1/placements/checklists/{checklist_id}/considerations", "RecordConsiderations", http.StatusOK},
}

// Routes returns the mux serving every placement route plus /health.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	for _, rt := range routes {
		mux.Handle(rt.pattern, h.serve(rt))
	}
	return mux
}

// Health reports whether the store is reachable.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) serve(rt route) http.Handler {
	op := h.ops[rt.op]
	params := wildcards(rt.pattern)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := requestJSON(r, params)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out, err := op(r.Context(), actorFromRequest(r), raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, rt.status, out)
	})
}

// requestJSON merges the body, the query string (GET only) and the path
// wildcards into one JSON object. Path values win.
func requestJSON(r *http.Request, params []string) ([]byte, error) {
	fields := map[string]any{}
	if r.Body != nil && r.Method != http.MethodGet {
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		if err := dec.Decode(&fields); err != nil && !stderrors.Is(err, io.EOF) {
			return nil, errors.InvalidInput("body", "Invalid request body")
		}
		if fields == nil {
			fields = map[string]any{}
		}
	}
	if r.Method == http.MethodGet {
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
	}
	for _, p := range params {
		fields[p] = r.PathValue(p)
	}
	return json.Marshal(fields)
}

func wildcards(pattern string) []string {
	var out []string
	for _, seg := range strings.Split(pattern, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, strings.Trim(seg, "{}"))
		}
	}
	return out
}

func actorFromRequest(r *http.Request) domain.Actor {
	return domain.Actor{
		ID:   strings.TrimSpace(r.Header.Get(ActorIDHeader)),
		Role: strings.TrimSpace(r.Header.Get(ActorRoleHeader)),
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	detail := errorDetail{Code: code, Message: err.Error()}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		detail.Message = appErr.Message
		detail.Field = appErr.Field
	}
	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		detail.Message = "internal error"
	}
	writeJSON(w, errors.HTTPStatus(code), errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
