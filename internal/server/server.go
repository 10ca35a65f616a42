// Package server exposes the replication endpoints a peer's worker calls
// into: metadata exchange and blob fetch, backed by the local store.
package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/ratelimit"
	"github.com/maxiofs/blobreplicator/internal/replication"
)

// LocalReplicaStore is the subset of internal/store.LocalStore the server
// needs to answer peer requests.
type LocalReplicaStore interface {
	replication.LocalStore
	ScanSince(partition string, fromSeq uint64, maxBytes int64) (messages []replication.MessageInfo, lastSeq uint64, lagBytes int64, err error)
	ReadBody(partition string, id string) ([]byte, error)
}

// Options configures a Server.
type Options struct {
	Listen       string
	Store        LocalReplicaStore
	Tokens       replication.TokenFactory
	SharedSecret string
	Limiter      *ratelimit.Limiter
	TLSCertFile  string
	TLSKeyFile   string
	Logger       *logrus.Entry
}

// Server hosts the HTTP endpoints peers call during anti-entropy.
type Server struct {
	opts Options
	http *http.Server
	log  *logrus.Entry
}

// New builds a Server ready to ListenAndServe.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "replication-server")
	}

	s := &Server{opts: opts, log: opts.Logger}

	router := mux.NewRouter()
	h := &handler{store: opts.Store, tokens: opts.Tokens, log: opts.Logger}
	router.HandleFunc("/replication/metadata", h.handleMetadata).Methods(http.MethodPost)
	router.HandleFunc("/replication/get", h.handleGet).Methods(http.MethodPost)

	var finalHandler http.Handler = router
	finalHandler = withSignatureCheck(finalHandler, opts.SharedSecret, opts.Logger)
	if opts.Limiter != nil {
		finalHandler = opts.Limiter.Middleware(finalHandler)
	}
	finalHandler = handlers.RecoveryHandler()(finalHandler)

	s.http = &http.Server{
		Addr:         opts.Listen,
		Handler:      finalHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe runs the server, selecting TLS when both cert and key are
// configured.
func (s *Server) ListenAndServe() error {
	if s.opts.TLSCertFile != "" && s.opts.TLSKeyFile != "" {
		s.http.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		s.log.WithField("listen", s.opts.Listen).Info("replication server listening (TLS)")
		return s.http.ListenAndServeTLS(s.opts.TLSCertFile, s.opts.TLSKeyFile)
	}
	s.log.WithField("listen", s.opts.Listen).Info("replication server listening")
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
