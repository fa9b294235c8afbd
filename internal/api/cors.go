package api

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// CORSConfig holds CORS configuration. AllowOrigin is "*" or a
// comma-separated list of origins.
type CORSConfig struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultCORSConfig returns a permissive config for LAN viewers.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin"},
		MaxAge:       86400,
	}
}

type corsHeaders struct {
	origins []string
	any     bool
	methods string
	headers string
	maxAge  string
}

func newCORSHeaders(config CORSConfig) corsHeaders {
	h := corsHeaders{
		methods: strings.Join(config.AllowMethods, ", "),
		headers: strings.Join(config.AllowHeaders, ", "),
		maxAge:  strconv.Itoa(config.MaxAge),
	}
	for _, o := range strings.Split(config.AllowOrigin, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			h.any = true
		} else if o != "" {
			h.origins = append(h.origins, o)
		}
	}
	return h
}

// apply writes the CORS headers for a request from origin.
func (h corsHeaders) apply(set func(name, value string), origin string) {
	switch {
	case h.any:
		set("Access-Control-Allow-Origin", "*")
	case origin != "" && slices.Contains(h.origins, origin):
		set("Access-Control-Allow-Origin", origin)
		set("Vary", "Origin")
	default:
		return
	}
	set("Access-Control-Allow-Methods", h.methods)
	set("Access-Control-Allow-Headers", h.headers)
	set("Access-Control-Max-Age", h.maxAge)
}

// NewCORSMiddleware creates CORS middleware with the given configuration.
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	h := newCORSHeaders(config)
	return func(ctx huma.Context, next func(huma.Context)) {
		h.apply(ctx.SetHeader, ctx.Header("Origin"))
		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}
		next(ctx)
	}
}

// AddCORSHandler answers preflight requests on mux. Huma middleware only
// runs for registered operations, so OPTIONS needs its own route.
func AddCORSHandler(mux *http.ServeMux, config CORSConfig) {
	h := newCORSHeaders(config)
	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		h.apply(w.Header().Set, r.Header.Get("Origin"))
		w.WriteHeader(http.StatusNoContent)
	})
}
