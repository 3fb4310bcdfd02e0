package handlers

import (
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/propfolio/internal/api/errors"
	"github.com/bigkaa/propfolio/internal/api/middleware"
	"github.com/bigkaa/propfolio/internal/api/openapi"
	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/service"
)

// ListPortfolios — GET /api/portfolios.
// Если пользователь запрашивает свои портфели и их нет, создаётся основной.
func (h *APIHandler) ListPortfolios(w http.ResponseWriter, r *http.Request, params openapi.ListPortfoliosParams) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w)
		return
	}

	ownerID := user.ID
	if params.UserID != nil {
		ownerID = *params.UserID
	}

	list, err := h.portfolios.ListPortfolios(r.Context(), user, ownerID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if len(list) == 0 && ownsList(user, ownerID) {
		primary, err := h.provisioner.EnsureUserHasPortfolio(r.Context(), user.ID)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		list = []*model.Portfolio{primary}
	}

	writeJSON(w, http.StatusOK, openapi.PortfolioListResponse{Portfolios: mapPortfolios(list)})
}

// ownsList — пользователь читает собственный список.
func ownsList(user *model.AuthenticatedUser, ownerID uuid.UUID) bool {
	return !user.IsServiceAccount() && user.ID != uuid.Nil && user.ID == ownerID
}

// CreatePortfolio — POST /api/portfolios. Владелец — вызывающий пользователь.
func (h *APIHandler) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w)
		return
	}

	var req openapi.CreatePortfolioRequest
	if err := decodeBody(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	if err := h.validateStruct(req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	portfolio, err := h.portfolios.CreatePortfolio(r.Context(), user, user.ID, service.CreatePortfolioInput{
		Name:      req.Name,
		Globals:   req.Globals,
		StartYear: req.StartYear,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, openapi.PortfolioResponse{Portfolio: mapPortfolio(portfolio)})
}
