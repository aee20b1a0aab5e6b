// Package module mounts independently configured HTTP surfaces (the REST
// API, the MCP tool server) under single-segment path prefixes.
package module

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/JaimeStill/compass/pkg/middleware"
)

// Module serves an inner handler beneath a prefix. Requests reach the inner
// handler with the prefix removed and pass through the module's own
// middleware stack first.
type Module struct {
	prefix  string
	inner   http.Handler
	stack   middleware.Stack
	handler http.Handler
}

// New creates a Module for prefix, which must be a single segment such as
// "/api". It panics on anything else since prefixes come from validated
// configuration.
func New(prefix string, inner http.Handler) *Module {
	if err := ValidatePrefix(prefix); err != nil {
		panic(err)
	}
	return &Module{
		prefix:  prefix,
		inner:   inner,
		handler: inner,
	}
}

// ValidatePrefix reports whether prefix can be mounted on a Router.
func ValidatePrefix(prefix string) error {
	switch {
	case prefix == "":
		return fmt.Errorf("module prefix cannot be empty")
	case !strings.HasPrefix(prefix, "/"):
		return fmt.Errorf("module prefix must start with /: %s", prefix)
	case len(prefix) == 1 || strings.Count(prefix, "/") != 1:
		return fmt.Errorf("module prefix must be a single path segment: %s", prefix)
	}
	return nil
}

// Prefix returns the mount prefix.
func (m *Module) Prefix() string {
	return m.prefix
}

// Use appends middleware. Layers added first run first.
func (m *Module) Use(mw middleware.Func) {
	m.stack.Use(mw)
	m.handler = m.stack.Apply(m.inner)
}

// Handler returns the inner handler wrapped in the module's middleware.
func (m *Module) Handler() http.Handler {
	return m.handler
}

// Serve strips the prefix and dispatches through the middleware stack.
func (m *Module) Serve(w http.ResponseWriter, req *http.Request) {
	m.handler.ServeHTTP(w, m.strip(req))
}

func (m *Module) strip(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	u := *req.URL
	r.URL = &u

	u.Path = strings.TrimPrefix(req.URL.Path, m.prefix)
	if u.Path == "" {
		u.Path = "/"
	}
	if req.URL.RawPath != "" {
		u.RawPath = strings.TrimPrefix(req.URL.RawPath, m.prefix)
		if u.RawPath == "" {
			u.RawPath = "/"
		}
	}
	return r
}
