// Package middleware holds the HTTP layers wrapped around compass modules:
// request IDs, panic recovery, request logging, CORS and bearer auth.
package middleware

import "net/http"

// Func wraps a handler with additional behaviour.
type Func = func(http.Handler) http.Handler

// Stack is an ordered middleware chain. Layers run in the order they were
// added, so the first layer sees the request first.
type Stack struct {
	layers []Func
}

// Use appends layers to the chain.
func (s *Stack) Use(layers ...Func) {
	s.layers = append(s.layers, layers...)
}

// Len reports the number of layers.
func (s *Stack) Len() int {
	return len(s.layers)
}

// Apply wraps handler with every layer.
func (s *Stack) Apply(handler http.Handler) http.Handler {
	for i := len(s.layers) - 1; i >= 0; i-- {
		handler = s.layers[i](handler)
	}
	return handler
}
