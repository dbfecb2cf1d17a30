// Package api exposes the media cache over HTTP: asset creation for
// producers, direct uploads through the dedup gate, and URL resolution for
// anything that serializes media for a client.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/KudcraftsHQ/mediacache/internal/asset"
	"github.com/KudcraftsHQ/mediacache/internal/ingest"
	"github.com/KudcraftsHQ/mediacache/internal/pipeline"
	"github.com/KudcraftsHQ/mediacache/internal/resolver"
)

const maxUploadBytes = 64 << 20

type Server struct {
	worker   *pipeline.Worker
	gate     *ingest.Gate
	resolver *resolver.Resolver
	log      zerolog.Logger
}

func NewServer(worker *pipeline.Worker, gate *ingest.Gate, res *resolver.Resolver, log zerolog.Logger) *Server {
	return &Server{
		worker:   worker,
		gate:     gate,
		resolver: res,
		log:      log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /assets", s.handleCreateAsset)
	mux.HandleFunc("POST /assets/{id}/requeue", s.handleRequeue)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /resolve", s.handleResolve)
	mux.HandleFunc("POST /resolve/batch", s.handleResolveBatch)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type createAssetRequest struct {
	OriginalURL string `json:"originalUrl"`
	Folder      string `json:"folder"`
}

type createAssetResponse struct {
	AssetID string `json:"assetId"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.OriginalURL) == "" {
		httpError(w, http.StatusBadRequest, "originalUrl is required")
		return
	}

	a, created, err := s.worker.Submit(r.Context(), req.OriginalURL, req.Folder)
	if err != nil {
		s.log.Error().Err(err).Str("origin", req.OriginalURL).Msg("submit asset")
		httpError(w, http.StatusInternalServerError, "could not create asset")
		return
	}
	writeJSON(w, createAssetResponse{AssetID: a.ID, Status: string(a.Status), Created: created})
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.worker.Requeue(r.Context(), id, r.URL.Query().Get("folder"))
	if errors.Is(err, asset.ErrNotFound) {
		httpError(w, http.StatusNotFound, "unknown asset")
		return
	}
	if err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"requeued": true})
}

type uploadResponse struct {
	AssetID   string `json:"assetId"`
	RefID     string `json:"refId"`
	Duplicate bool   `json:"duplicate"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil || len(data) == 0 {
		httpError(w, http.StatusBadRequest, "empty upload body")
		return
	}
	if len(data) > maxUploadBytes {
		httpError(w, http.StatusRequestEntityTooLarge, "upload body exceeds limit")
		return
	}

	res, err := s.gate.Upload(r.Context(), data,
		r.Header.Get("Content-Type"),
		r.URL.Query().Get("folder"),
		r.URL.Query().Get("originalUrl"),
	)
	if err != nil {
		s.log.Error().Err(err).Msg("direct upload")
		httpError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, uploadResponse{AssetID: res.AssetID, RefID: res.RefID, Duplicate: res.Duplicate})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	url := s.resolver.ResolveString(r.Context(),
		r.URL.Query().Get("ref"),
		r.URL.Query().Get("originalUrl"),
	)
	writeJSON(w, map[string]string{"url": url})
}

type resolveBatchRequest struct {
	Refs         []string `json:"refs"`
	OriginalURLs []string `json:"originalUrls"`
}

func (s *Server) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req resolveBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	refs := make([]resolver.Ref, len(req.Refs))
	for i, raw := range req.Refs {
		refs[i] = resolver.ParseRef(raw)
	}
	urls := s.resolver.ResolveMany(r.Context(), refs, req.OriginalURLs)
	writeJSON(w, map[string][]string{"urls": urls})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
