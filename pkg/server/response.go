package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/openaddresses/submit-service-sub000/pkg/errors"
)

// responder writes at most one response per request. Once something has
// been sent, later calls are dropped and report false.
type responder struct {
	w http.ResponseWriter

	mu     sync.Mutex
	sent   bool
	status int
	err    *errors.Error
}

func newResponder(w http.ResponseWriter) *responder {
	return &responder{w: w}
}

// claim marks the response as sent. It reports false if it already was.
func (r *responder) claim(status int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		return false
	}
	r.sent = true
	r.status = status
	return true
}

func (r *responder) json(status int, v interface{}) bool {
	if !r.claim(status) {
		return false
	}
	jsonResponse(r.w, status, v)
	return true
}

// fail reports err. Transfer and decoding failures are sent as plain text,
// everything else as the JSON error envelope.
func (r *responder) fail(err error) bool {
	e := errors.Classify(err)
	status := e.Kind.Status()
	if !r.claim(status) {
		return false
	}
	r.mu.Lock()
	r.err = e
	r.mu.Unlock()

	if e.Kind.PipelineStage() {
		r.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		r.w.WriteHeader(status)
		r.w.Write([]byte(e.Error()))
		return true
	}
	jsonError(r.w, status, e.Error())
	return true
}

// stream claims the response for a body the caller writes itself.
func (r *responder) stream(status int) bool {
	if !r.claim(status) {
		return false
	}
	r.w.WriteHeader(status)
	return true
}

func (r *responder) result() (int, *errors.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.err
}

// Helper functions

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: errorDetail{Code: status, Message: message}})
}
