package proxy

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/timegate/backend/internal/middleware"
)

// NewForwarder returns the handler that relays an already-authorized request
// to the protected origin, byte-for-byte except for credentials: the
// capability secret is stripped and the validated account/token ids travel as
// correlation headers only. All authorization happens before this handler.
func NewForwarder(origin *url.URL) http.Handler {
	forwarder := httputil.NewSingleHostReverseProxy(origin)

	defaultDirector := forwarder.Director
	forwarder.Director = func(req *http.Request) {
		originPath := "/" + middleware.OriginPath(req)
		defaultDirector(req)
		req.URL.Path = singleJoiningSlash(origin.Path, originPath)
		req.Host = origin.Host

		req.Header.Del("Authorization")
		if accountID, ok := req.Context().Value("accountID").(string); ok {
			req.Header.Set("X-Account-ID", accountID)
		}
		if tokenID, ok := req.Context().Value("tokenID").(string); ok {
			req.Header.Set("X-Token-ID", tokenID)
		}
	}

	forwarder.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("[GATEWAY] Origin unreachable for %s: %v", r.URL.Path, err)
		http.Error(w, "Origin unavailable", http.StatusBadGateway)
	}

	return forwarder
}

func singleJoiningSlash(a, b string) string {
	switch {
	case a == "" || a == "/":
		return b
	case b == "":
		return a
	default:
		for len(a) > 0 && a[len(a)-1] == '/' {
			a = a[:len(a)-1]
		}
		return a + b
	}
}
