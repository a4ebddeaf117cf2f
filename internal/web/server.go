// Package web serves the monitoring endpoints for the controller.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// StatusSource is anything that can produce a monitoring snapshot.
type StatusSource interface {
	GetStatus() map[string]any
}

type Server struct {
	server *http.Server
	logger *logrus.Logger
}

func NewServer(addr string, controller StatusSource, deviceMetadata, sensorMetadata map[string]any, logger *logrus.Logger) *Server {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"controller": controller.GetStatus(),
			"devices":    deviceMetadata,
			"sensors":    sensorMetadata,
			"time":       time.Now(),
		})
	}).Methods(http.MethodGet)

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: handlers.LoggingHandler(logger.Writer(), router),
		},
		logger: logger,
	}
}

// Start blocks until the listener fails or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Infof("Status server listening on %s", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
