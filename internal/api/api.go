// Package api serves a small JSON status and control API over the active
// demux sessions and ingest connections.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/asfdemux/internal/ingest"
	srtingest "github.com/zsiec/asfdemux/internal/ingest/srt"
	"github.com/zsiec/asfdemux/internal/report"
	"github.com/zsiec/asfdemux/internal/scheduler"
	"github.com/zsiec/asfdemux/internal/session"
)

// ContentTypeProtobuf selects the protobuf encoding of a report.
const ContentTypeProtobuf = "application/x-protobuf"

const seekTimeout = 5 * time.Second

// Puller controls SRT pulls. *srt.Caller implements it.
type Puller interface {
	Pull(ctx context.Context, req srtingest.PullRequest) error
	Stop(streamKey string) error
	ActivePulls() []srtingest.PullRequest
}

// Config wires the API to the running service. Nil fields disable the
// routes that need them.
type Config struct {
	Sessions *session.Manager
	Ingest   *ingest.Registry
	SRT      Puller
	// PullContext bounds pulls started through the API; it should outlive
	// the HTTP request.
	PullContext context.Context

	QUICAddr        string
	CertFingerprint string
	Log             *slog.Logger
}

// SessionInfo is the detail view of one session.
type SessionInfo struct {
	session.Stats
	Ingest *ingest.IngestStats `json:"ingest,omitempty"`
}

type server struct {
	cfg Config
	log *slog.Logger
}

// Handler returns the API router.
func Handler(cfg Config) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.PullContext == nil {
		cfg.PullContext = context.Background()
	}
	s := &server{cfg: cfg, log: log.With("component", "api")}

	r := mux.NewRouter()
	r.Use(corsMiddleware)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{key:.+}", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/reports/{key:.+}", s.handleReport).Methods(http.MethodGet)
	api.HandleFunc("/seek", s.handleSeek).Methods(http.MethodPost)
	api.HandleFunc("/seek", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodGet)
	api.HandleFunc("/cert-hash", s.handleCertHash).Methods(http.MethodGet)
	api.HandleFunc("/srt-pull", s.handleSRTPullList).Methods(http.MethodGet)
	api.HandleFunc("/srt-pull", s.handleSRTPullCreate).Methods(http.MethodPost)
	api.HandleFunc("/srt-pull", s.handleSRTPullStop).Methods(http.MethodDelete)
	api.HandleFunc("/srt-pull", handleOptions).Methods(http.MethodOptions)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if s.cfg.Sessions == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	sess, ok := s.cfg.Sessions.Get(mux.Vars(r)["key"])
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
	}
	return sess, ok
}

func (s *server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	resp := make([]session.Stats, 0)
	if s.cfg.Sessions != nil {
		for _, sess := range s.cfg.Sessions.List() {
			resp = append(resp, sess.Stats())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	info := SessionInfo{Stats: sess.Stats()}
	if s.cfg.Ingest != nil {
		if st, ok := s.cfg.Ingest.Get(sess.Key()); ok {
			stats := st.IngestStats()
			info.Ingest = &stats
		}
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	rep, ok := sess.Report()
	if !ok {
		writeError(w, http.StatusConflict, "header not parsed yet")
		return
	}
	if r.Header.Get("Accept") == ContentTypeProtobuf {
		w.Header().Set("Content-Type", ContentTypeProtobuf)
		w.Write(report.Marshal(rep))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type seekRequest struct {
	StreamKey string `json:"streamKey"`
	// PTS is a presentation time in 100-ns units.
	PTS uint64 `json:"pts"`
}

func (s *server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.Sessions == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess, ok := s.cfg.Sessions.Get(req.StreamKey)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), seekTimeout)
	defer cancel()
	res := make(chan error, 1)
	if err := sess.Seek(req.PTS, func(err error) { res <- err }); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	select {
	case err := <-res:
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"status": "seeked", "pts": req.PTS})
		case errors.Is(err, scheduler.ErrSuperseded):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
	case <-ctx.Done():
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "pending", "pts": req.PTS})
	}
}

func (s *server) handleIngest(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]ingest.IngestStats{}
	if s.cfg.Ingest != nil {
		resp = s.cfg.Ingest.List()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"hash": s.cfg.CertFingerprint,
		"addr": s.cfg.QUICAddr,
	})
}

func handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// SECURITY: the pull endpoint dials arbitrary addresses. Expose it only to
// operators.
func (s *server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.SRT == nil {
		writeJSON(w, http.StatusOK, []srtingest.PullRequest{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.SRT.ActivePulls())
}

func (s *server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SRT == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req srtingest.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.StreamKey == "" {
		writeError(w, http.StatusBadRequest, "address and streamKey are required")
		return
	}
	if err := s.cfg.SRT.Pull(s.cfg.PullContext, req); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.log.Info("pull started", "address", req.Address, "stream_key", req.StreamKey)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pulling", "streamKey": req.StreamKey})
}

func (s *server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SRT == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	streamKey := r.URL.Query().Get("streamKey")
	if streamKey == "" {
		writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	if err := s.cfg.SRT.Stop(streamKey); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "streamKey": streamKey})
}
