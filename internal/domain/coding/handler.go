package coding

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/digiscribe/internal/platform/auth"
)

// Handler provides REST endpoints for coding clinical notes.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers coding routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/coding", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleCoder))
	g.POST("/icd10", h.CodeNote)
	g.POST("/icd10/batch", h.CodeBatch)
}

type codeRequest struct {
	Text    string  `json:"text"`
	Options Options `json:"options"`
}

type batchRequest struct {
	Notes   []string `json:"notes"`
	Options Options  `json:"options"`
}

// CodeNote handles POST /api/v1/coding/icd10.
func (h *Handler) CodeNote(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.Code(c.Request().Context(), req.Text, req.Options)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CodeBatch handles POST /api/v1/coding/icd10/batch.
func (h *Handler) CodeBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.CodeBatch(c.Request().Context(), req.Notes, req.Options)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func httpError(err error) error {
	var cfgErr *ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return echo.NewHTTPError(http.StatusBadRequest, cfgErr.Error())
	case errors.Is(err, ErrEmptyBatch), errors.Is(err, ErrBatchTooLarge):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
