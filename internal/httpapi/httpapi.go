// Package httpapi exposes the engine's external RPC surface over HTTP,
// grounded on the original instance's http_request query handler (a
// single "/" greeting route plus a "/search" POST route, CORS headers on
// every response) and shaped like the teacher's server package (a struct
// holding the engine, constructed once, registering one handler per
// operation).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/clankpan/vectune/internal/logger"
	"github.com/clankpan/vectune/pkg/batchpool"
	"github.com/clankpan/vectune/pkg/engine"
	"github.com/clankpan/vectune/pkg/segment"
	"github.com/clankpan/vectune/pkg/vamana"
)

func zeroParams() vamana.Params { return vamana.Params{} }

// Server wraps an *engine.Engine with HTTP handlers.
type Server struct {
	eng *engine.Engine
	log *logger.Logger
	mux *http.ServeMux
}

// New builds a Server and registers all routes.
func New(eng *engine.Engine, log *logger.Logger) *Server {
	s := &Server{eng: eng, log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the CORS-wrapped http.Handler ready to pass to
// http.Serve / http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/search", s.handleSearch)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/upload-chunk", s.handleUploadChunk)
	s.mux.HandleFunc("/missing-chunks", s.handleMissingChunks)
	s.mux.HandleFunc("/start-loading", s.handleStartLoading)
	s.mux.HandleFunc("/start-running", s.handleStartRunning)
	s.mux.HandleFunc("/batch-step", s.handleBatchStep)
	s.mux.HandleFunc("/payload", s.handleSetPayload)
}

type setPayloadRequest struct {
	ID      uint32 `json:"id"`
	Payload []byte `json:"payload"`
}

func (s *Server) handleSetPayload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "payload requires POST")
		return
	}
	var req setPayloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.eng.SetPayload(req.ID, req.Payload); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("vectune instance running"))
}

// searchRequest mirrors section 6's HTTP body exactly: query, k, l.
type searchRequest struct {
	Query []float32 `json:"query"`
	K     int       `json:"k"`
	L     int       `json:"l"`
}

type searchResult struct {
	ID         uint32  `json:"id"`
	Similarity float32 `json:"similarity"`
	Data       []byte  `json:"data,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "search requires POST")
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.K <= 0 {
		writeError(w, http.StatusBadRequest, "k must be positive")
		return
	}
	if req.L <= 0 {
		writeError(w, http.StatusBadRequest, "l must be positive")
		return
	}
	if req.K > req.L {
		writeError(w, http.StatusBadRequest, "k must not exceed l")
		return
	}

	start := time.Now()
	hits, err := s.eng.Search(req.Query, req.K, req.L)
	s.log.CallLogger("search").LogCall("search", time.Since(start), err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]searchResult, len(hits))
	for i, h := range hits {
		out[i] = searchResult{ID: h.ID, Similarity: h.Similarity, Data: h.Payload}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"status_code": s.eng.StatusCode()})
}

type uploadChunkRequest struct {
	Stream string `json:"stream"`
	Index  uint32 `json:"index"`
	Data   []byte `json:"data"`
}

func parseStream(name string) (segment.Stream, bool) {
	switch name {
	case "graph":
		return segment.StreamGraph, true
	case "datamap":
		return segment.StreamDataMap, true
	case "backlinks":
		return segment.StreamBacklinks, true
	default:
		return 0, false
	}
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "upload-chunk requires POST")
		return
	}
	var req uploadChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stream, ok := parseStream(req.Stream)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown stream")
		return
	}
	if err := s.eng.UploadChunk(stream, req.Index, req.Data); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMissingChunks(w http.ResponseWriter, r *http.Request) {
	stream, ok := parseStream(r.URL.Query().Get("stream"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown stream")
		return
	}
	section := uint64(0)
	if sec := r.URL.Query().Get("section"); sec != "" {
		n, err := strconv.ParseUint(sec, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid section")
			return
		}
		section = n
	}
	chunks, err := s.eng.MissingChunks(stream, section)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]byte{"bitmap": chunks})
}

type startLoadingRequest struct {
	NumGraphChunks     uint32 `json:"num_graph_chunks"`
	NumDataMapChunks   uint32 `json:"num_datamap_chunks"`
	NumBacklinkChunks  uint32 `json:"num_backlink_chunks"`
	ChunkSize          uint64 `json:"chunk_size"`
	DBKey              string `json:"db_key"`
	Medoid             uint32 `json:"medoid"`
	NumVectors         uint32 `json:"num_vectors"`
	VectorDim          uint32 `json:"vector_dim"`
	EdgeDegrees        uint32 `json:"edge_degrees"`
}

func (s *Server) handleStartLoading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "start-loading requires POST")
		return
	}
	var req startLoadingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.eng.StartLoading(req.NumGraphChunks, req.NumDataMapChunks, req.NumBacklinkChunks,
		req.ChunkSize, req.DBKey, req.Medoid, req.NumVectors, req.VectorDim, req.EdgeDegrees)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartRunning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "start-running requires POST")
		return
	}
	if err := s.eng.StartRunning(zeroParams()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchStepRequest struct {
	MaxIter int    `json:"max_iter"`
	Budget  uint64 `json:"budget"`
}

func (s *Server) handleBatchStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "batch-step requires POST")
		return
	}
	var req batchStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	budget := batchpool.NewCountingBudget(req.Budget)
	res, err := s.eng.NextBatchStep(budget, req.MaxIter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
