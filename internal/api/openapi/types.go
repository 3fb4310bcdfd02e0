package openapi

import (
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/propfolio/internal/domain/model"
)

// ErrorResponse — тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
}

// User — аутентифицированный субъект.
type User struct {
	ID          string               `json:"id"`
	Email       *openapi_types.Email `json:"email,omitempty"`
	Role        string               `json:"role"`
	SubjectType string               `json:"subjectType"`
}

// Portfolio — представление портфеля в API.
type Portfolio struct {
	ID        uuid.UUID               `json:"id"`
	UserID    uuid.UUID               `json:"userId"`
	Name      string                  `json:"name"`
	Globals   model.GlobalAssumptions `json:"globals"`
	StartYear int                     `json:"startYear"`
	IsPrimary bool                    `json:"isPrimary"`
	CreatedAt time.Time               `json:"createdAt"`
}

// Property — представление объекта недвижимости в API.
type Property struct {
	ID          uuid.UUID      `json:"id"`
	PortfolioID uuid.UUID      `json:"portfolioId"`
	Data        map[string]any `json:"data"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// MeResponse — ответ GET /api/me.
type MeResponse struct {
	User      User       `json:"user"`
	Portfolio *Portfolio `json:"portfolio,omitempty"`
}

// PortfolioListResponse — ответ GET /api/portfolios.
type PortfolioListResponse struct {
	Portfolios []Portfolio `json:"portfolios"`
}

// PortfolioResponse — ответ POST /api/portfolios.
type PortfolioResponse struct {
	Portfolio Portfolio `json:"portfolio"`
}

// PropertyResponse — ответ POST /api/properties.
type PropertyResponse struct {
	Property Property `json:"property"`
}

// CreatePortfolioRequest — тело POST /api/portfolios. Все поля необязательны.
type CreatePortfolioRequest struct {
	Name      *string             `json:"name,omitempty" validate:"omitempty,max=200"`
	Globals   *model.GlobalsPatch `json:"globals,omitempty"`
	StartYear *int                `json:"start_year,omitempty" validate:"omitempty,min=1900,max=2200"`
}

// CreatePropertyRequest — тело POST /api/properties.
type CreatePropertyRequest struct {
	PortfolioID  string         `json:"portfolioId" validate:"required,uuid"`
	PropertyData map[string]any `json:"propertyData" validate:"required"`
}

// ProjectionYear — строка проекции с отображаемыми значениями.
type ProjectionYear struct {
	Year           int               `json:"year"`
	Offset         int               `json:"offset"`
	Rent           float64           `json:"rent"`
	Expenses       float64           `json:"expenses"`
	NetIncome      float64           `json:"netIncome"`
	Tax            float64           `json:"tax"`
	AfterTaxIncome float64           `json:"afterTaxIncome"`
	PortfolioValue float64           `json:"portfolioValue"`
	Display        map[string]string `json:"display"`
}

// Projection — проекция денежного потока.
type Projection struct {
	PortfolioID       uuid.UUID        `json:"portfolioId"`
	StartYear         int              `json:"startYear"`
	PropertyCount     int              `json:"propertyCount"`
	TargetIncome      float64          `json:"targetIncome"`
	TargetReachedYear *int             `json:"targetReachedYear"`
	Years             []ProjectionYear `json:"years"`
}

// ProjectionResponse — ответ GET /api/portfolios/{id}/projection.
type ProjectionResponse struct {
	Projection Projection `json:"projection"`
}

// ListPortfoliosParams — query-параметры GET /api/portfolios.
type ListPortfoliosParams struct {
	// UserID — владелец (только для администратора)
	UserID *openapi_types.UUID `json:"user_id,omitempty"`
}

// GetProjectionParams — query-параметры GET /api/portfolios/{id}/projection.
type GetProjectionParams struct {
	// Years — горизонт проекции, 1..50
	Years *int `json:"years,omitempty"`
}
