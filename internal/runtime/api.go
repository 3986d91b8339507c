package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/loqalabs/loqa-practice/internal/capability"
	"github.com/loqalabs/loqa-practice/internal/content"
	"github.com/loqalabs/loqa-practice/internal/pipeline"
	"github.com/loqalabs/loqa-practice/internal/practicestore"
)

// Practices is the pipeline surface served over HTTP.
type Practices interface {
	GeneratePractice(ctx context.Context, kind content.Kind) (practicestore.Practice, error)
	ListPractices(ctx context.Context) ([]practicestore.Summary, error)
	GetPractice(ctx context.Context, id string) (practicestore.Practice, error)
}

type generateRequest struct {
	Type string `json:"type"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
}

type api struct {
	practices Practices
	caps      *capability.Registry
	staticDir string
	origins   []string
	ready     func() bool
	logger    *slog.Logger
}

func (a *api) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", a.handleGenerate)
	mux.HandleFunc("GET /saved_practices", a.handleList)
	mux.HandleFunc("GET /practice/{id}", a.handleGet)
	mux.Handle("GET /static_audio/", http.StripPrefix("/static_audio/", noListing(http.FileServer(http.Dir(a.staticDir)))))
	mux.HandleFunc("GET /capabilities", a.handleCapabilities)
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/readyz", a.handleReady)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return a.cors(mux)
}

func (a *api) handleGenerate(w http.ResponseWriter, req *http.Request) {
	var body generateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 4096))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body", Kind: string(pipeline.KindInvalidRequest)})
		return
	}
	kind, err := content.ParseKind(body.Type)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid practice type", Kind: string(pipeline.KindInvalidRequest)})
		return
	}

	start := time.Now()
	practice, err := a.practices.GeneratePractice(req.Context(), kind)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.logger.Info("practice served",
		slog.String("id", practice.ID),
		slog.String("type", string(kind)),
		slog.Duration("latency", time.Since(start)))
	writeJSON(w, http.StatusOK, practice)
}

func (a *api) handleList(w http.ResponseWriter, req *http.Request) {
	list, err := a.practices.ListPractices(req.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	if list == nil {
		list = []practicestore.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) handleGet(w http.ResponseWriter, req *http.Request) {
	practice, err := a.practices.GetPractice(req.Context(), req.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, practice)
}

func (a *api) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	if a.caps == nil {
		writeJSON(w, http.StatusOK, []capability.Status{})
		return
	}
	writeJSON(w, http.StatusOK, a.caps.Snapshot())
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if (a.ready == nil || a.ready()) && (a.caps == nil || a.caps.Ready()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		// client went away
		return
	}
	kind := pipeline.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", slog.String("error_kind", string(kind)), slog.String("error", err.Error()))
	}
	detail := err.Error()
	if kind == pipeline.KindNotFound {
		detail = "Practice not found"
	}
	writeJSON(w, status, errorResponse{Detail: detail, Kind: string(kind)})
}

func statusFor(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindInvalidRequest:
		return http.StatusBadRequest
	case pipeline.KindNotFound:
		return http.StatusNotFound
	case pipeline.KindValidation:
		return http.StatusUnprocessableEntity
	case pipeline.KindGeneration, pipeline.KindSynthesis, pipeline.KindTranscript:
		return http.StatusBadGateway
	case pipeline.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin != "" && a.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
			if req.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}

func (a *api) originAllowed(origin string) bool {
	return slices.Contains(a.origins, "*") || slices.Contains(a.origins, origin)
}

func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "" || strings.HasSuffix(req.URL.Path, "/") {
			http.NotFound(w, req)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
