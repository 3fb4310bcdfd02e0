package handlers

import (
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/propfolio/internal/api/errors"
	"github.com/bigkaa/propfolio/internal/api/middleware"
	"github.com/bigkaa/propfolio/internal/api/openapi"
	"github.com/bigkaa/propfolio/internal/domain/model"
)

// CreateProperty — POST /api/properties.
func (h *APIHandler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w)
		return
	}

	var req openapi.CreatePropertyRequest
	if err := decodeBody(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := h.validateStruct(req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	portfolioID, err := uuid.Parse(req.PortfolioID)
	if err != nil {
		apierrors.ValidationError(w, "portfolioId должен быть UUID")
		return
	}

	property, err := h.properties.CreateProperty(r.Context(), user, portfolioID, model.PropertyData(req.PropertyData))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, openapi.PropertyResponse{Property: mapProperty(property)})
}
