package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"dmdesk/internal/desk"
	"dmdesk/internal/domain"
	"dmdesk/internal/gateway"
)

const (
	msgTimeout        = "Request timeout - Instagram/Unipile taking too long"
	msgMissingAccount = "Message missing account_id. Please reconnect your Instagram account."
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps a service error to an HTTP status and writes it. notFound is the
// message used for domain.ErrNotFound on this route.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	status, msg := classify(err, notFound)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		s.logger.Warn("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, msg)
}

func classify(err error, notFound string) (int, string) {
	var (
		ve *domain.ValidationError
		ge *gateway.Error
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if notFound == "" {
			notFound = "Not found"
		}
		return http.StatusNotFound, notFound
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		return http.StatusBadRequest, "Unsupported platform"
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusBadRequest, "Instagram not connected"
	case errors.Is(err, desk.ErrMissingAccount):
		return http.StatusUnauthorized, msgMissingAccount
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusRequestTimeout, msgTimeout
	case errors.As(err, &ge):
		status := ge.Status
		if status == 0 {
			status = http.StatusBadGateway
		}
		return status, ge.Message
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// decode reads a JSON body into v and runs its validate tags. An empty body
// decodes as {}.
func (s *Server) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return domain.NewValidationError("body", "Bad Request")
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return domain.NewValidationError("body", "Invalid JSON")
		}
	}
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError reports the first failed field by its JSON name.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("body", err.Error())
	}
	return &domain.ValidationError{Field: verrs[0].Field()}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
