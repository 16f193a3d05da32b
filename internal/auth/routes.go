package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Route declares an endpoint and whether it sits behind the Gate. The flag is
// fixed at definition time.
type Route struct {
	Method     string
	Pattern    string
	Protected  bool
	Handler    http.HandlerFunc
	Middleware []func(http.Handler) http.Handler
}

// Mount registers routes on r, wrapping protected ones with the gate.
func Mount(r chi.Router, gate *Gate, routes []Route) {
	for _, rt := range routes {
		var h http.Handler = rt.Handler
		for i := len(rt.Middleware) - 1; i >= 0; i-- {
			h = rt.Middleware[i](h)
		}
		if rt.Protected {
			h = gate.Middleware(h)
		}
		r.Method(rt.Method, rt.Pattern, h)
	}
}
