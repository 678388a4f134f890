// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "leader-intake/internal/common/errors"
	"leader-intake/internal/common/logger"
	"leader-intake/internal/common/validation"
	"leader-intake/internal/models"
	"leader-intake/internal/services/intake"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	multipartMemory   = 4 << 20
	maxStatusBodySize = 64 << 10
)

// IntakeService is the public submission path.
type IntakeService interface {
	Submit(ctx context.Context, sub *intake.Submission) (*models.Application, error)
}

// ReviewService is the admin path.
type ReviewService interface {
	ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error)
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	ListSlots(ctx context.Context) ([]models.Slot, error)
	SlotSummary(ctx context.Context) (models.SlotSummary, error)
	SetApplicationStatus(ctx context.Context, id string, status models.ApplicationStatus) (*models.Application, error)
	InitializeRoster(ctx context.Context) ([]models.Slot, error)
}

var statusUpdateSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"type": "string", "enum": ["pending", "approved", "rejected"]}
	}
}`)

// Limits bounds request bodies. A submission body over MaxBodyBytes is
// reported against MaxImageBytes because the image dominates its size.
type Limits struct {
	MaxBodyBytes  int64
	MaxImageBytes int64
}

type Handler struct {
	intake IntakeService
	review ReviewService
	errors *apperrors.ErrorHandler
	logger logger.Logger
	limits Limits
}

func NewHandler(intakeSvc IntakeService, reviewSvc ReviewService, limits Limits, log logger.Logger) *Handler {
	if limits.MaxImageBytes <= 0 {
		limits.MaxImageBytes = intake.DefaultMaxImageBytes
	}
	return &Handler{
		intake: intakeSvc,
		review: reviewSvc,
		errors: apperrors.NewErrorHandler(log),
		logger: log,
		limits: limits,
	}
}

func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.review.ListSlots(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if slots == nil {
		slots = []models.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *Handler) InitializeSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.review.InitializeRoster(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slots)
}

func (h *Handler) SlotSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.review.SlotSummary(r.Context())
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	sub := &intake.Submission{ContentType: r.Header.Get("Content-Type")}

	// Anything that is not multipart goes straight to the service, which
	// rejects it with the proper code.
	if mediaType, _, err := mime.ParseMediaType(sub.ContentType); err == nil && mediaType == "multipart/form-data" {
		if h.limits.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxBodyBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			h.errors.Handle(w, r, h.formError(err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		form := r.MultipartForm
		sub.Name = formValue(form, "name")
		sub.Email = formValue(form, "email")
		sub.WhatsappNumber = formValue(form, "whatsappNumber")
		if sub.WhatsappNumber == "" {
			sub.WhatsappNumber = formValue(form, "whatsapp")
		}
		if values, ok := form.Value["bio"]; ok && len(values) > 0 {
			bio := values[0]
			sub.Bio = &bio
		}

		if headers := form.File["profileImage"]; len(headers) > 0 {
			header := headers[0]
			file, err := header.Open()
			if err != nil {
				h.errors.Handle(w, r, apperrors.NewInternalError(err))
				return
			}
			defer file.Close()

			sub.Image = &intake.ImageUpload{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Content:     file,
			}
		}
	}

	app, err := h.intake.Submit(r.Context(), sub)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *Handler) formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.NewImageTooLargeError(tooLarge.Limit, h.limits.MaxImageBytes)
	}
	return apperrors.NewValidationError("form").WithMetadata("parseError", err.Error())
}

func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	filter, err := parseApplicationFilter(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	apps, err := h.review.ListApplications(r.Context(), filter)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if apps == nil {
		apps = []models.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := applicationID(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	app, err := h.review.GetApplication(r.Context(), id)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// UpdateApplicationStatus checks the id, then status presence, then the
// status value, and only then whether the application exists.
func (h *Handler) UpdateApplicationStatus(w http.ResponseWriter, r *http.Request) {
	id, err := applicationID(r)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	status, err := decodeStatus(r.Body)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	app, err := h.review.SetApplicationStatus(r.Context(), id, status)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func decodeStatus(body io.Reader) (models.ApplicationStatus, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxStatusBodySize))
	if err != nil {
		return "", apperrors.NewInvalidJSONError(err)
	}

	result, err := statusUpdateSchema.ValidateBytes(raw)
	if err != nil {
		return "", apperrors.NewInvalidJSONError(err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", apperrors.NewInvalidJSONError(err)
	}

	if _, missing := result.FirstWithCode(validation.ErrorTypeRequired); missing {
		return "", apperrors.NewMissingStatusError()
	}
	value := doc["status"]
	if value == nil || value == "" {
		return "", apperrors.NewMissingStatusError()
	}
	if !result.Valid {
		return "", apperrors.NewInvalidStatusError(toString(value))
	}
	return models.ApplicationStatus(value.(string)), nil
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}

func applicationID(r *http.Request) (string, error) {
	id := mux.Vars(r)["id"]
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", apperrors.NewInvalidIDError(id)
	}
	return parsed.String(), nil
}

func parseApplicationFilter(r *http.Request) (models.ApplicationFilter, error) {
	query := r.URL.Query()
	var filter models.ApplicationFilter

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := models.ApplicationStatus(raw)
		if !status.Valid() {
			return filter, apperrors.NewInvalidStatusError(raw)
		}
		filter.Status = &status
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, apperrors.NewInvalidPaginationError("limit must be a positive integer")
		}
		filter.Limit = limit
	}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, apperrors.NewInvalidPaginationError("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	return filter.Normalized(), nil
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ReadyHandler reports readiness using check, typically a storage ping.
func ReadyHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}
