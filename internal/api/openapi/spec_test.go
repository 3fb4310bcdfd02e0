package openapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc, err := Load()
	require.NoError(t, err)

	for _, path := range []string{"/api/me", "/api/portfolios", "/api/properties", "/api/portfolios/{id}/projection"} {
		assert.NotNil(t, doc.Paths.Value(path), "путь %s отсутствует", path)
	}

	req := doc.Components.Schemas["CreatePropertyRequest"].Value
	assert.ElementsMatch(t, []string{"portfolioId", "propertyData"}, req.Required)
}

// stubServer записывает разобранные параметры.
type stubServer struct {
	ServerInterface
	projectionID    openapi_types.UUID
	projectionYears *int
	listUserID      *openapi_types.UUID
}

func (s *stubServer) GetProjection(w http.ResponseWriter, _ *http.Request, id openapi_types.UUID, params GetProjectionParams) {
	s.projectionID = id
	s.projectionYears = params.Years
	w.WriteHeader(http.StatusOK)
}

func (s *stubServer) ListPortfolios(w http.ResponseWriter, _ *http.Request, params ListPortfoliosParams) {
	s.listUserID = params.UserID
	w.WriteHeader(http.StatusOK)
}

func TestHandlerFromMux_BindsParams(t *testing.T) {
	stub := &stubServer{}
	h := HandlerFromMux(stub, chi.NewRouter(), nil)

	id := uuid.New()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolios/"+id.String()+"/projection?years=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, stub.projectionID)
	require.NotNil(t, stub.projectionYears)
	assert.Equal(t, 10, *stub.projectionYears)

	owner := uuid.New()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolios?user_id="+owner.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, stub.listUserID)
	assert.Equal(t, owner, *stub.listUserID)
}

func TestHandlerFromMux_InvalidParams(t *testing.T) {
	var gotErr error
	h := HandlerFromMux(&stubServer{}, chi.NewRouter(), func(w http.ResponseWriter, _ *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusBadRequest)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolios/not-a-uuid/projection", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var perr *InvalidParamError
	require.ErrorAs(t, gotErr, &perr)
	assert.Equal(t, "id", perr.ParamName)
}
