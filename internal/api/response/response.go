// Package response writes JSON and problem bodies with the request id attached.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/OceanOptics/getOC/internal/api/middleware"
	"github.com/OceanOptics/getOC/internal/api/models"
)

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set(middleware.HeaderRequestID, id)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error writes a problem for the current request path.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.WithInstance(r.URL.Path).Write(w)
}

// Validation writes a 400 problem.
func Validation(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewValidation(middleware.GetRequestID(r.Context()), detail, errors))
}

// Upstream writes a 502 problem.
func Upstream(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewUpstream(middleware.GetRequestID(r.Context()), detail))
}

// InternalError writes a 500 problem.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(middleware.GetRequestID(r.Context()), detail))
}
