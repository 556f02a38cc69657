package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; parameters are tiny.
const maxBodyBytes = 1 << 20

// HTTPRequest bundles what a handler needs for one request.
type HTTPRequest struct {
	ResponseWriter http.ResponseWriter
	Request        *http.Request

	vars map[string]string
}

// Parameter returns the route variable key.
func (r *HTTPRequest) Parameter(key string) string {
	if r.vars == nil {
		r.vars = mux.Vars(r.Request)
	}
	return r.vars[key]
}

// JSON writes obj with status code.
func (r *HTTPRequest) JSON(code int, obj any) error {
	r.ResponseWriter.Header().Set("Content-Type", "application/json")
	r.ResponseWriter.WriteHeader(code)
	return json.NewEncoder(r.ResponseWriter).Encode(obj)
}

// Decode reads the JSON body into v. An empty body leaves v untouched.
func (r *HTTPRequest) Decode(v any) error {
	if r.Request.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Request.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &ParseBodyError{Err: err}
	}
	return nil
}

// handlerFunc is an endpoint: it either writes a response or returns an
// error for the wrapper to render.
type handlerFunc func(*HTTPRequest) error

// wrap adapts fn to http.Handler, rendering returned errors through
// Classify.
func (s *Server) wrap(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &HTTPRequest{ResponseWriter: w, Request: r}
		err := fn(req)
		if err == nil {
			return
		}

		status, code := Classify(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("code", code),
				zap.Error(err),
			)
		}
		if werr := req.JSON(status, ErrorMessage{Message: err.Error(), Code: code}); werr != nil {
			s.logger.Debug("failed to write error response", zap.Error(werr))
		}
	})
}
