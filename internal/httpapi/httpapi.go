// Package httpapi implements the REST control plane for topic lifecycle
// and observability: GET/POST /topics, DELETE /topics/{name}, GET
// /topics/{name}, GET /health, GET /stats (spec §6, plus the additive
// single-topic read from SPEC_FULL.md §4).
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/pubsubd/pubsubd/internal/broker"
	"github.com/pubsubd/pubsubd/internal/health"
)

// Server wires a gorilla/mux router over the Broker. It implements
// http.Handler so it can be mounted directly.
type Server struct {
	router  *mux.Router
	broker  *broker.Broker
	health  *health.Sampler
	logger  zerolog.Logger
}

func NewServer(b *broker.Broker, sampler *health.Sampler, logger zerolog.Logger) *Server {
	s := &Server{router: mux.NewRouter(), broker: b, health: sampler, logger: logger}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("/topics", s.listTopics).Methods(http.MethodGet)
	s.router.HandleFunc("/topics", s.createTopic).Methods(http.MethodPost)
	s.router.HandleFunc("/topics/{name}", s.getTopic).Methods(http.MethodGet)
	s.router.HandleFunc("/topics/{name}", s.deleteTopic).Methods(http.MethodDelete)
	s.router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
}

type topicSummary struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	topics := s.broker.ListTopics()
	out := make([]topicSummary, 0, len(topics))
	for _, t := range topics {
		out = append(out, topicSummary{Name: t.Name, Subscribers: t.SubscriberCount})
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": out})
}

func (s *Server) createTopic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, broker.ErrBadRequest, "name is required")
		return
	}

	if err := s.broker.CreateTopic(req.Name); err != nil {
		writeError(w, statusFor(err.Code), err.Code, err.Message)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "created", "topic": req.Name})
}

func (s *Server) getTopic(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	info, err := s.broker.TopicStats(name)
	if err != nil {
		writeError(w, statusFor(err.Code), err.Code, err.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        info.Name,
		"subscribers": info.SubscriberCount,
		"messages":    info.MessageCount,
		"created_at":  info.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

func (s *Server) deleteTopic(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.broker.DeleteTopic(name); err != nil {
		writeError(w, statusFor(err.Code), err.Code, err.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "topic": name})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	h := s.broker.Health()
	sys := s.health.Sample()
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_sec":        s.health.UptimeSeconds(),
		"topics":            h.Topics,
		"subscribers":       h.Subscriptions,
		"distinct_clients":  h.DistinctSubscribers,
		"cpu_percent":       sys.CPUPercent,
		"mem_used_bytes":    sys.MemUsedBytes,
		"mem_total_bytes":   sys.MemTotalBytes,
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	topics := s.broker.ListTopics()
	byName := make(map[string]map[string]any, len(topics))
	for _, t := range topics {
		byName[t.Name] = map[string]any{
			"messages":    t.MessageCount,
			"subscribers": t.SubscriberCount,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": byName})
}

func statusFor(code broker.ErrorCode) int {
	switch code {
	case broker.ErrBadRequest:
		return http.StatusBadRequest
	case broker.ErrTopicNotFound:
		return http.StatusNotFound
	case broker.ErrAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code broker.ErrorCode, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": string(code), "message": message},
	})
}
