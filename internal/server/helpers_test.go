package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	return logrus.WithField("component", "server-test")
}

func newTestRouter(h *handler) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/replication/metadata", h.handleMetadata).Methods(http.MethodPost)
	router.HandleFunc("/replication/get", h.handleGet).Methods(http.MethodPost)
	return router
}
