package fileexchange

import (
	"encoding/json"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HTTPSink keeps the latest artifact per name and serves them as downloads.
//
//	GET /artifacts         list of artifacts (JSON)
//	GET /artifacts/{name}  the artifact, as an attachment
type HTTPSink struct {
	logger *zap.Logger

	mu        sync.RWMutex
	artifacts map[string]Artifact
}

// NewHTTPSink creates an empty download endpoint.
func NewHTTPSink(logger *zap.Logger) *HTTPSink {
	return &HTTPSink{
		logger:    logger.With(zap.String("component", "artifact-http")),
		artifacts: make(map[string]Artifact),
	}
}

// Deliver implements Sink.
func (s *HTTPSink) Deliver(a Artifact) error {
	name, err := artifactFileName(a.Name)
	if err != nil {
		return err
	}
	a.Name = name

	s.mu.Lock()
	s.artifacts[name] = a
	s.mu.Unlock()
	return nil
}

// Get returns the artifact stored under name.
func (s *HTTPSink) Get(name string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[name]
	return a, ok
}

// Handler returns the HTTP handler serving the artifacts.
func (s *HTTPSink) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/artifacts", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/artifacts/{name}", s.handleDownload).Methods(http.MethodGet, http.MethodHead)

	accessLog := zap.NewStdLog(s.logger).Writer()
	return handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(accessLog, r))
}

type artifactInfo struct {
	Name      string    `json:"name"`
	MIME      string    `json:"mime"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *HTTPSink) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	list := make([]artifactInfo, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		list = append(list, artifactInfo{
			Name:      a.Name,
			MIME:      a.MIME,
			Size:      len(a.Content),
			CreatedAt: a.CreatedAt,
		})
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		s.logger.Warn("Failed to write artifact list", zap.Error(err))
	}
}

func (s *HTTPSink) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	a, ok := s.Get(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", a.MIME)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Content)))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write([]byte(a.Content)); err != nil {
		s.logger.Warn("Failed to write artifact", zap.String("name", a.Name), zap.Error(err))
	}
}
