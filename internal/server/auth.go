package server

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/transport"
)

// withSignatureCheck rejects requests whose HMAC signature doesn't match
// sharedSecret, mirroring the header scheme internal/transport signs with.
func withSignatureCheck(next http.Handler, sharedSecret string, log *logrus.Entry) http.Handler {
	if sharedSecret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodeID := r.Header.Get("X-Replicator-Node-ID")
		timestamp := r.Header.Get("X-Replicator-Timestamp")
		nonce := r.Header.Get("X-Replicator-Nonce")
		signature := r.Header.Get("X-Replicator-Signature")

		if !transport.VerifySignature(r.Method, r.URL.Path, timestamp, nonce, signature, sharedSecret) {
			log.WithFields(logrus.Fields{"peer_node_id": nodeID, "path": r.URL.Path}).Warn("rejected unsigned or mis-signed replication request")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
