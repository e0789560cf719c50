package runtime

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/drblury/kernelbus/internal/runtime/envelope"
	"github.com/drblury/kernelbus/internal/runtime/jsoncodec"
)

type listenersResponse struct {
	Dispatcher string         `json:"dispatcher"`
	Closed     bool           `json:"closed"`
	InFlight   *int64         `json:"in_flight,omitempty"`
	Listeners  []ListenerInfo `json:"listeners"`
}

type catalogResponse struct {
	Kinds []envelope.BodyKind `json:"kinds"`
}

// IntrospectionHandler serves read-only views of the pipeline:
// GET /api/listeners and GET /api/catalog.
func (p *Pipeline) IntrospectionHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/listeners", p.handleGetListeners)
	mux.HandleFunc("/api/catalog", p.handleGetCatalog)
	return p.introspectionMiddleware(mux)
}

func (p *Pipeline) introspectionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.Conf != nil && len(p.Conf.IntrospectionCORSAllowedOrigins) > 0 {
			if allowed := p.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet:
		default:
			w.Header().Set("Allow", "GET, OPTIONS")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		if !p.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kernelbus"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Pipeline) authorized(r *http.Request) bool {
	if p.Conf == nil || p.Conf.IntrospectionToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(p.Conf.IntrospectionToken)) == 1
}

func (p *Pipeline) handleGetListeners(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	resp := listenersResponse{
		Dispatcher: p.caps.Name,
		Closed:     closed,
		Listeners:  p.Listeners(),
	}
	if n, ok := p.InFlight(); ok {
		resp.InFlight = &n
	}
	p.writeJSON(w, resp)
}

func (p *Pipeline) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	p.writeJSON(w, catalogResponse{Kinds: p.catalog.Kinds()})
}

func (p *Pipeline) writeJSON(w http.ResponseWriter, v any) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		p.Logger.Error("Failed to encode introspection response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the
// appropriate Access-Control-Allow-Origin value.
func (p *Pipeline) getAllowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range p.Conf.IntrospectionCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
