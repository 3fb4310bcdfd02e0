package openapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ServerInterface — обработчики операций документа openapi.yaml.
type ServerInterface interface {
	// GET /health/live
	HealthLive(w http.ResponseWriter, r *http.Request)
	// GET /health/ready
	HealthReady(w http.ResponseWriter, r *http.Request)
	// GET /metrics
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// GET /api/openapi.yaml
	GetOpenAPI(w http.ResponseWriter, r *http.Request)
	// GET /api/me
	GetMe(w http.ResponseWriter, r *http.Request)
	// GET /api/portfolios
	ListPortfolios(w http.ResponseWriter, r *http.Request, params ListPortfoliosParams)
	// POST /api/portfolios
	CreatePortfolio(w http.ResponseWriter, r *http.Request)
	// GET /api/portfolios/{id}/projection
	GetProjection(w http.ResponseWriter, r *http.Request, id openapi_types.UUID, params GetProjectionParams)
	// POST /api/properties
	CreateProperty(w http.ResponseWriter, r *http.Request)
}

// ErrorHandlerFunc формирует ответ на ошибку привязки параметров.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// InvalidParamError — параметр запроса не удалось разобрать.
type InvalidParamError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("некорректный параметр %s: %v", e.ParamName, e.Err)
}

func (e *InvalidParamError) Unwrap() error {
	return e.Err
}

// wrapper разбирает параметры и вызывает ServerInterface.
type wrapper struct {
	handler      ServerInterface
	errorHandler ErrorHandlerFunc
}

func (sw *wrapper) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	var params ListPortfoliosParams

	if err := runtime.BindQueryParameter("form", true, false, "user_id", r.URL.Query(), &params.UserID); err != nil {
		sw.errorHandler(w, r, &InvalidParamError{ParamName: "user_id", Err: err})
		return
	}

	sw.handler.ListPortfolios(w, r, params)
}

func (sw *wrapper) GetProjection(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID

	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		sw.errorHandler(w, r, &InvalidParamError{ParamName: "id", Err: err})
		return
	}

	var params GetProjectionParams
	if err := runtime.BindQueryParameter("form", true, false, "years", r.URL.Query(), &params.Years); err != nil {
		sw.errorHandler(w, r, &InvalidParamError{ParamName: "years", Err: err})
		return
	}

	sw.handler.GetProjection(w, r, id, params)
}

// HandlerFromMux регистрирует маршруты документа на router.
func HandlerFromMux(si ServerInterface, r chi.Router, errorHandler ErrorHandlerFunc) http.Handler {
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	sw := &wrapper{handler: si, errorHandler: errorHandler}

	r.Get("/health/live", si.HealthLive)
	r.Get("/health/ready", si.HealthReady)
	r.Get("/metrics", si.GetMetrics)
	r.Get("/api/openapi.yaml", si.GetOpenAPI)
	r.Get("/api/me", si.GetMe)
	r.Get("/api/portfolios", sw.ListPortfolios)
	r.Post("/api/portfolios", si.CreatePortfolio)
	r.Get("/api/portfolios/{id}/projection", sw.GetProjection)
	r.Post("/api/properties", si.CreateProperty)

	return r
}
