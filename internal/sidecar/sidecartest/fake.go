// Package sidecartest provides an in-process fake of the Dapr sidecar HTTP API.
package sidecartest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cart-service/internal/sidecar"
)

type Published struct {
	PubSub      string
	Topic       string
	ContentType string
	Body        []byte
}

type entry struct {
	value    json.RawMessage
	metadata map[string]string
}

// Sidecar serves the state, publish and health endpoints from memory.
type Sidecar struct {
	*httptest.Server

	mu        sync.Mutex
	state     map[string]entry
	published []Published
	unhealthy bool
	failNext  int
	token     string
}

// New starts a fake sidecar that is closed when the test ends.
func New(t testing.TB) *Sidecar {
	t.Helper()
	s := &Sidecar{state: make(map[string]entry)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1.0/healthz", s.health)
	mux.HandleFunc("GET /v1.0/healthz/outbound", s.health)
	mux.HandleFunc("GET /v1.0/state/{store}/{key}", s.guard(s.getState))
	mux.HandleFunc("POST /v1.0/state/{store}", s.guard(s.saveState))
	mux.HandleFunc("DELETE /v1.0/state/{store}/{key}", s.guard(s.deleteState))
	mux.HandleFunc("POST /v1.0/publish/{pubsub}/{topic}", s.guard(s.publish))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// RequireToken makes every non-health request demand the dapr-api-token header.
func (s *Sidecar) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Sidecar) SetHealthy(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy = !ok
}

// FailNext answers the next n non-health requests with 500.
func (s *Sidecar) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Sidecar) Value(store, key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.state[store+"/"+key]
	return e.value, ok
}

func (s *Sidecar) Metadata(store, key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[store+"/"+key].metadata
}

func (s *Sidecar) Put(store, key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[store+"/"+key] = entry{value: value}
}

func (s *Sidecar) Published() []Published {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Published, len(s.published))
	copy(out, s.published)
	return out
}

func (s *Sidecar) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	unhealthy := s.unhealthy
	s.mu.Unlock()
	if unhealthy {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sidecar) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fail := s.failNext > 0 || s.unhealthy
		if s.failNext > 0 {
			s.failNext--
		}
		token := s.token
		s.mu.Unlock()

		if token != "" && r.Header.Get("dapr-api-token") != token {
			http.Error(w, `{"errorCode":"ERR_UNAUTHORIZED"}`, http.StatusUnauthorized)
			return
		}
		if fail {
			http.Error(w, `{"errorCode":"ERR_INTERNAL"}`, http.StatusInternalServerError)
			return
		}
		next(w, r)
	}
}

func (s *Sidecar) getState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	e, ok := s.state[r.PathValue("store")+"/"+r.PathValue("key")]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(e.value)
}

func (s *Sidecar) saveState(w http.ResponseWriter, r *http.Request) {
	var items []sidecar.StateItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, `{"errorCode":"ERR_MALFORMED_REQUEST"}`, http.StatusBadRequest)
		return
	}

	store := r.PathValue("store")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		k := store + "/" + it.Key
		if it.Options != nil && it.Options.Concurrency == sidecar.ConcurrencyFirstWrite {
			if _, exists := s.state[k]; exists {
				http.Error(w, `{"errorCode":"ERR_STATE_SAVE"}`, http.StatusConflict)
				return
			}
		}
		s.state[k] = entry{value: it.Value, metadata: it.Metadata}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sidecar) deleteState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.state, r.PathValue("store")+"/"+r.PathValue("key"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sidecar) publish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.published = append(s.published, Published{
		PubSub:      r.PathValue("pubsub"),
		Topic:       r.PathValue("topic"),
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	})
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
