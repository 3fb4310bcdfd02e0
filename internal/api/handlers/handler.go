// handler.go — основной обработчик API, реализующий openapi.ServerInterface.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "github.com/bigkaa/propfolio/internal/api/errors"
	"github.com/bigkaa/propfolio/internal/api/openapi"
	"github.com/bigkaa/propfolio/internal/service"
)

var _ openapi.ServerInterface = (*APIHandler)(nil)

// maxBodyBytes — предельный размер тела запроса.
const maxBodyBytes = 1 << 20

// APIHandler — основной обработчик API propfolio.
type APIHandler struct {
	health       *HealthHandler
	provisioner  *service.Provisioner
	portfolios   *service.PortfolioService
	properties   *service.PropertyService
	projections  *service.ProjectionService
	validate     *validator.Validate
	exposeErrors bool
	logger       *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// exposeErrors включает текст ошибок хранилища в ответах (только development).
func NewAPIHandler(
	health *HealthHandler,
	provisioner *service.Provisioner,
	portfolios *service.PortfolioService,
	properties *service.PropertyService,
	projections *service.ProjectionService,
	exposeErrors bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:       health,
		provisioner:  provisioner,
		portfolios:   portfolios,
		properties:   properties,
		projections:  projections,
		validate:     NewValidator(),
		exposeErrors: exposeErrors,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// NewValidator создаёт валидатор DTO, сообщающий имена полей из json-тегов.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetOpenAPI отдаёт встроенный OpenAPI-документ.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec())
}

// ParamErrorHandler отвечает 400 на ошибки привязки path/query параметров.
func ParamErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	apierrors.ValidationError(w, err.Error())
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody разбирает JSON-тело в dst. Пустое тело допустимо при allowEmpty.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return errors.New("тело запроса пустое")
		}
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	return nil
}

// validateStruct проверяет DTO и формирует сообщение для клиента.
func (h *APIHandler) validateStruct(dto any) error {
	err := h.validate.Struct(dto)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" обязателен")
		case "uuid":
			msgs = append(msgs, fe.Field()+" должен быть UUID")
		default:
			if fe.Param() != "" {
				msgs = append(msgs, fmt.Sprintf("%s: нарушено %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			} else {
				msgs = append(msgs, fmt.Sprintf("%s: нарушено %s", fe.Field(), fe.Tag()))
			}
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// handleServiceError маппит ошибки сервисного слоя в HTTP-ответы.
func (h *APIHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *service.StorageError

	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidUser):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "доступ запрещён")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "не найдено")
	case errors.As(err, &storageErr):
		apierrors.StorageError(w, err, h.exposeErrors)
	default:
		h.logger.Error("Необработанная ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StorageError(w, err, h.exposeErrors)
	}
}
