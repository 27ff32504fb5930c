package fhir

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SubsumptionResult represents the outcome of a $subsumes operation.
type SubsumptionResult string

const (
	Subsumes    SubsumptionResult = "subsumes"
	SubsumedBy  SubsumptionResult = "subsumed-by"
	Equivalent  SubsumptionResult = "equivalent"
	NotSubsumed SubsumptionResult = "not-subsumed"
)

// SubsumptionChecker tests hierarchical relationships between codes.
type SubsumptionChecker interface {
	CheckSubsumption(system, codeA, codeB string) (SubsumptionResult, error)
}

// SubsumesHandler serves CodeSystem/$subsumes.
type SubsumesHandler struct {
	checker SubsumptionChecker
}

func NewSubsumesHandler(checker SubsumptionChecker) *SubsumesHandler {
	return &SubsumesHandler{checker: checker}
}

// RegisterRoutes adds CodeSystem/$subsumes routes to the given FHIR group.
func (h *SubsumesHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/CodeSystem/$subsumes", h.HandleSubsumes)
	g.POST("/CodeSystem/$subsumes", h.HandleSubsumesPost)
}

// HandleSubsumes handles GET /fhir/CodeSystem/$subsumes with query parameters.
func (h *SubsumesHandler) HandleSubsumes(c echo.Context) error {
	return h.doSubsumes(c, c.QueryParam("system"), c.QueryParam("codeA"), c.QueryParam("codeB"))
}

// HandleSubsumesPost handles POST /fhir/CodeSystem/$subsumes with a Parameters
// resource body.
func (h *SubsumesHandler) HandleSubsumesPost(c echo.Context) error {
	params, err := ReadParameters(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewOperationOutcome("error", "structure", err.Error()))
	}
	return h.doSubsumes(c, params.Value("system"), params.Value("codeA"), params.Value("codeB"))
}

func (h *SubsumesHandler) doSubsumes(c echo.Context, system, codeA, codeB string) error {
	if codeA == "" {
		return c.JSON(http.StatusBadRequest, RequiredOutcome("codeA"))
	}
	if codeB == "" {
		return c.JSON(http.StatusBadRequest, RequiredOutcome("codeB"))
	}

	result, err := h.checker.CheckSubsumption(system, codeA, codeB)
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return c.JSON(http.StatusNotFound, NewOperationOutcome("error", "not-found", err.Error()))
	case err != nil:
		return c.JSON(http.StatusBadRequest, NewOperationOutcome("error", "not-supported", err.Error()))
	}

	return c.JSON(http.StatusOK, NewParameters().AddCode("outcome", string(result)))
}
