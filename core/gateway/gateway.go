// Package gateway exposes the resolution and staleness core over a small
// JSON HTTP API, plus a websocket feed of cache invalidation events.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetconf/fleetconf/core/configstate"
	"github.com/fleetconf/fleetconf/core/infra/bus"
	"github.com/fleetconf/fleetconf/core/infra/logging"
	"github.com/fleetconf/fleetconf/core/infra/metrics"
	"github.com/fleetconf/fleetconf/core/staleness"
)

var upgrader = websocket.Upgrader{
	// The gateway is an internal control-plane surface; origin checks are
	// delegated to the deployment's ingress.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the fleetconf HTTP API.
type Server struct {
	state    configstate.ClusterState
	resolver *configstate.Resolver
	cache    *staleness.Cache
	events   bus.Bus
	metrics  metrics.Gateway

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]chan bus.Event
}

// New builds a server. The event bus is optional; without it, invalidations
// apply to the local cache only.
func New(state configstate.ClusterState, cache *staleness.Cache, events bus.Bus, m metrics.Gateway) *Server {
	if m == nil {
		m = noopGateway{}
	}
	return &Server{
		state:    state,
		resolver: configstate.NewResolver(state),
		cache:    cache,
		events:   events,
		metrics:  m,
		clients:  make(map[*websocket.Conn]chan bus.Event),
	}
}

type noopGateway struct{}

func (noopGateway) ObserveRequest(string, string, string, float64) {}

// Start subscribes to the invalidation subject so events published by any
// node are applied to this node's cache and fanned out to watchers.
func (s *Server) Start() error {
	if s.events == nil {
		return nil
	}
	return s.events.Subscribe(bus.SubjectInvalidate, "", func(ev bus.Event) {
		s.apply(ev)
		s.broadcast(ev)
	})
}

// Routes returns the HTTP mux for the API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/v1/clusters/{cluster}/hosts/{host}/desired-tags",
		s.instrumented("/api/v1/clusters/{cluster}/hosts/{host}/desired-tags", s.handleDesiredTags))
	mux.HandleFunc("GET /api/v1/clusters/{cluster}/hosts/{host}/effective",
		s.instrumented("/api/v1/clusters/{cluster}/hosts/{host}/effective", s.handleEffective))
	mux.HandleFunc("GET /api/v1/stale",
		s.instrumented("/api/v1/stale", s.handleStale))
	mux.HandleFunc("POST /api/v1/stale/invalidate",
		s.instrumented("/api/v1/stale/invalidate", s.handleInvalidate))
	mux.HandleFunc("GET /api/v1/events/watch", s.handleWatch)
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumented(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(rec, r)
		s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

func (s *Server) handleDesiredTags(w http.ResponseWriter, r *http.Request) {
	cluster := r.PathValue("cluster")
	host := r.PathValue("host")
	tags, err := s.resolver.DesiredTags(r.Context(), cluster, host)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleEffective(w http.ResponseWriter, r *http.Request) {
	cluster := r.PathValue("cluster")
	host := r.PathValue("host")
	tags, err := s.resolver.DesiredTags(r.Context(), cluster, host)
	if err != nil {
		writeError(w, err)
		return
	}
	if t := r.URL.Query().Get("type"); t != "" {
		tagSet, ok := tags[configstate.ConfigType(t)]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown config type"})
			return
		}
		tags = map[configstate.ConfigType]configstate.TagSet{configstate.ConfigType(t): tagSet}
	}
	props, err := configstate.EffectiveProperties(r.Context(), s.state, cluster, tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (s *Server) handleStale(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := configstate.ComponentRef{
		Cluster:   q.Get("cluster"),
		Host:      q.Get("host"),
		Service:   q.Get("service"),
		Component: q.Get("component"),
	}
	if ref.Cluster == "" || ref.Host == "" || ref.Service == "" || ref.Component == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cluster, host, service and component are required"})
		return
	}
	stale, err := s.cache.IsStale(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"component": ref, "stale": stale})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var ev bus.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invalidation payload"})
		return
	}
	switch ev.Kind {
	case bus.KindComponent, bus.KindHost, bus.KindCluster, bus.KindAll:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invalidation kind"})
		return
	}
	if s.events != nil {
		// The bus echoes the event back to this node's subscription, which
		// applies and broadcasts it there.
		if err := s.events.Publish(bus.SubjectInvalidate, ev); err != nil {
			writeError(w, err)
			return
		}
	} else {
		s.apply(ev)
		s.broadcast(ev)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) apply(ev bus.Event) {
	if s.cache == nil {
		return
	}
	switch ev.Kind {
	case bus.KindComponent:
		s.cache.Invalidate(configstate.ComponentRef{
			Cluster:   ev.Cluster,
			Host:      ev.Host,
			Service:   ev.Service,
			Component: ev.Component,
		})
	case bus.KindHost:
		s.cache.InvalidateHost(ev.Cluster, ev.Host)
	case bus.KindCluster:
		s.cache.InvalidateCluster(ev.Cluster)
	case bus.KindAll:
		s.cache.InvalidateAll()
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "websocket upgrade failed", "err", err)
		return
	}
	ch := make(chan bus.Event, 16)
	s.clientsMu.Lock()
	s.clients[conn] = ch
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	// Drain reads so close frames are processed; a read error is the
	// disconnect signal for the writer loop below.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) broadcast(ev bus.Event) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for conn, ch := range s.clients {
		select {
		case ch <- ev:
		default:
			logging.Warn("gateway", "dropping event for slow watcher", "remote", conn.RemoteAddr().String())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, configstate.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	logging.Error("gateway", "request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
