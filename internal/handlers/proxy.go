package handlers

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"gatekeeper/internal/common/logging"
)

// NewProxy forwards admitted requests to the upstream application.
// Responses are flushed immediately so streamed answers are not buffered.
func NewProxy(target *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.WithContext(r.Context()).Error("Upstream request failed", err,
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
			)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		},
	}
}
