package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/propfolio/internal/api/errors"
	"github.com/bigkaa/propfolio/internal/api/middleware"
	"github.com/bigkaa/propfolio/internal/api/openapi"
)

// GetMe — GET /api/me. Возвращает субъекта и его основной портфель,
// создавая портфель при первом обращении. Сервисный аккаунт портфелей не имеет.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w)
		return
	}

	resp := openapi.MeResponse{User: mapUser(user)}
	if !user.IsServiceAccount() {
		portfolio, err := h.provisioner.EnsureUserHasPortfolio(r.Context(), user.ID)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		p := mapPortfolio(portfolio)
		resp.Portfolio = &p
	}

	writeJSON(w, http.StatusOK, resp)
}
