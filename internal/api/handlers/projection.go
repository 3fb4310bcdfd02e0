package handlers

import (
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/propfolio/internal/api/errors"
	"github.com/bigkaa/propfolio/internal/api/middleware"
	"github.com/bigkaa/propfolio/internal/api/openapi"
	"github.com/bigkaa/propfolio/internal/service"
)

// GetProjection — GET /api/portfolios/{id}/projection.
func (h *APIHandler) GetProjection(
	w http.ResponseWriter, r *http.Request, id openapi_types.UUID, params openapi.GetProjectionParams,
) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w)
		return
	}

	years := service.DefaultProjectionYears
	if params.Years != nil {
		years = *params.Years
	}

	projection, err := h.projections.Project(r.Context(), user, id, years)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, openapi.ProjectionResponse{Projection: mapProjection(projection)})
}
