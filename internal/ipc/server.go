package ipc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentineledr/core/internal/demux"
	"github.com/sentineledr/core/internal/detection"
	"github.com/sentineledr/core/internal/fusion"
	"github.com/sentineledr/core/internal/history"
	"github.com/sentineledr/core/internal/kvstore"
	"github.com/sentineledr/core/internal/middleware"
	"github.com/sentineledr/core/internal/model"
	"github.com/sentineledr/core/internal/policy"
)

// Server exposes the spec §6 remote-object surface: getProcesses,
// getProcess, getStatus, getSecurityEventsSince, updateBlocklists, plus a
// websocket push channel for newly appended security events and alerts.
type Server struct {
	router      *mux.Router
	history     *history.Store
	policy      *policy.Engine
	detection   *detection.Engine
	demux       *demux.Demultiplexer
	auditStore  *kvstore.AuditModeStore
	fusion      *fusion.Scorer // optional, may be nil
	bus         *eventBus
	upgrader    websocket.Upgrader
	rateLimiter *middleware.RateLimiter
	peerVerifier *PeerVerifier
	verifiedPIDs sync.Map // remote addr -> uint32 pid

	httpServer *http.Server
}

type Deps struct {
	History      *history.Store
	Policy       *policy.Engine
	Detection    *detection.Engine
	Demux        *demux.Demultiplexer
	AuditStore   *kvstore.AuditModeStore
	Fusion       *fusion.Scorer // optional cross-source scoring overlay; nil disables /entities
	PeerVerifier *PeerVerifier  // nil disables peer authentication (e.g. local dev)
}

func NewServer(deps Deps) *Server {
	s := &Server{
		history:      deps.History,
		policy:       deps.Policy,
		detection:    deps.Detection,
		demux:        deps.Demux,
		auditStore:   deps.AuditStore,
		fusion:       deps.Fusion,
		bus:          newEventBus(),
		peerVerifier: deps.PeerVerifier,
		rateLimiter:  middleware.NewRateLimiter(middleware.RateLimitConfig{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.buildRouter()
	return s
}

// SetDemux binds the demultiplexer used by handleGetStatus. It is set
// after construction because the demultiplexer's sink typically wraps
// the server itself (for websocket push), creating a short
// construction-order cycle that a plain constructor argument can't express.
func (s *Server) SetDemux(d *demux.Demultiplexer) { s.demux = d }

// SetDetection binds the detection engine used by handleGetStatus, for
// the same construction-order reason as SetDemux.
func (s *Server) SetDetection(de *detection.Engine) { s.detection = de }

// PublishSecurityEvent and PublishAlert feed the websocket fan-out; wire
// these as callbacks from the demux's AlertSink and the detection
// engine's onAlert hook.
func (s *Server) PublishSecurityEvent(evt model.SecurityEvent) {
	s.bus.publish(pushMessage{Kind: "security_event", Data: evt})
}

func (s *Server) PublishAlert(alert model.Alert) {
	s.bus.publish(pushMessage{Kind: "alert", Data: alert})
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/processes", s.handleGetProcesses).Methods(http.MethodGet)
	r.HandleFunc("/processes/{pid}", s.handleGetProcess).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleGetStatus).Methods(http.MethodGet)
	r.HandleFunc("/security-events", s.handleGetSecurityEventsSince).Methods(http.MethodGet)
	r.HandleFunc("/blocklists", s.handleUpdateBlocklists).Methods(http.MethodPost)
	r.HandleFunc("/entities/{signingId}/score", s.handleEntityScore).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	rl := s.rateLimiter.Middleware(s.rateLimitKey)
	r.Use(rl)
	return r
}

func (s *Server) rateLimitKey(r *http.Request) string {
	if v, ok := s.verifiedPIDs.Load(r.RemoteAddr); ok {
		return strconv.FormatUint(uint64(v.(uint32)), 10)
	}
	return "unverified"
}

func (s *Server) handleGetProcesses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.history.Processes())
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pid, err := strconv.ParseInt(vars["pid"], 10, 32)
	if err != nil {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	rec, ok := s.history.Process(int32(pid))
	if !ok {
		http.Error(w, "process not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type statusResponse struct {
	DemuxState       string `json:"demux_state"`
	AuthResponses    uint64 `json:"auth_responses"`
	NotifyCount      uint64 `json:"notify_count"`
	NotifyQueueDepth int64  `json:"notify_queue_depth"`
	ProcessCount     int    `json:"process_count"`
	AuditMode        bool   `json:"audit_mode"`
	AlertCount       int    `json:"alert_count"`
	InFlightCorrelations int `json:"in_flight_correlations"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	dstats := s.demux.Stats()
	writeJSON(w, http.StatusOK, statusResponse{
		DemuxState:           dstats.State,
		AuthResponses:        dstats.AuthResponses,
		NotifyCount:          dstats.NotifyCount,
		NotifyQueueDepth:     dstats.QueueDepth,
		ProcessCount:         s.history.ProcessCount(),
		AuditMode:            s.policy.AuditMode(),
		AlertCount:           s.detection.Alerts().Len(),
		InFlightCorrelations: s.detection.InFlightCorrelations(),
	})
}

type securityEventsSinceResponse struct {
	Cursor uint64               `json:"cursor"`
	Events []model.SecurityEvent `json:"events"`
}

// handleGetSecurityEventsSince implements spec §6's
// getSecurityEventsSince(sinceSeq, limit, reply:(uint64, blobs)) contract
// over REST: ?since=&limit= query params, a JSON body carrying both the
// new cursor and the events so callers can resume a truncated fetch
// exactly where it left off (spec §8 "delta idempotence").
func (s *Server) handleGetSecurityEventsSince(w http.ResponseWriter, r *http.Request) {
	after := uint64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since cursor", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	events, cursor := s.history.SecurityEventsSince(after, limit)
	writeJSON(w, http.StatusOK, securityEventsSinceResponse{Cursor: cursor, Events: events})
}

type updateBlocklistsRequest struct {
	Paths      []string `json:"paths"`
	TeamIDs    []string `json:"team_ids"`
	SigningIDs []string `json:"signing_ids"`
	AuditMode  *bool    `json:"audit_mode,omitempty"`
}

func (s *Server) handleUpdateBlocklists(w http.ResponseWriter, r *http.Request) {
	var req updateBlocklistsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Malformed JSON is rejected with 400; it never corrupts the
		// active snapshot (spec §7).
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	current := s.policy.Blocklist()
	next := model.NewBlocklistSnapshot(current.Version+1, req.Paths, req.TeamIDs, req.SigningIDs)
	s.policy.SwapBlocklist(next)

	if req.AuditMode != nil {
		s.policy.SetAuditMode(*req.AuditMode)
		if s.auditStore != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			_ = s.auditStore.Set(ctx, *req.AuditMode)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"version": next.Version})
}

func (s *Server) handleEntityScore(w http.ResponseWriter, r *http.Request) {
	if s.fusion == nil {
		http.Error(w, "cross-source fusion is not enabled", http.StatusNotImplemented)
		return
	}
	signingID := mux.Vars(r)["signingId"]
	writeJSON(w, http.StatusOK, map[string]any{
		"score":      s.fusion.Score(signingID),
		"campaigns":  s.fusion.Campaigns(signingID),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.bus.subscribe()
	defer s.bus.unsubscribe(ch)

	for msg := range ch {
		data, err := msg.json()
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run starts the HTTP server, verifying each new connection's peer PID
// against the code-signing requirement before any request on it is
// served (spec §6).
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if s.peerVerifier != nil {
		s.httpServer.ConnState = s.peerVerifier.ConnStateHook(&s.verifiedPIDs)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
