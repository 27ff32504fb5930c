package fhir

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// CodeSystemLookup can look up a code in a code system.
type CodeSystemLookup interface {
	LookupCode(system, code string) (*LookupResult, error)
}

// LookupResult represents the result of a CodeSystem $lookup operation.
type LookupResult struct {
	Name     string
	Version  string
	Display  string
	Abstract bool
	Property []LookupProperty
}

// LookupProperty represents a property of a code.
type LookupProperty struct {
	Code  string
	Value string
}

// LookupHandler handles CodeSystem $lookup requests.
type LookupHandler struct {
	lookup CodeSystemLookup
}

func NewLookupHandler(lookup CodeSystemLookup) *LookupHandler {
	return &LookupHandler{lookup: lookup}
}

// RegisterRoutes registers the $lookup endpoint.
func (h *LookupHandler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("/CodeSystem/$lookup", h.Lookup)
	fhirGroup.POST("/CodeSystem/$lookup", h.LookupPost)
}

// Lookup handles GET /fhir/CodeSystem/$lookup
func (h *LookupHandler) Lookup(c echo.Context) error {
	return h.doLookup(c, c.QueryParam("system"), c.QueryParam("code"))
}

// LookupPost handles POST /fhir/CodeSystem/$lookup with a Parameters body.
func (h *LookupHandler) LookupPost(c echo.Context) error {
	params, err := ReadParameters(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewOperationOutcome("error", "structure", err.Error()))
	}
	code := params.Value("code")
	if code == "" {
		code = params.Value("coding")
	}
	return h.doLookup(c, params.Value("system"), code)
}

func (h *LookupHandler) doLookup(c echo.Context, system, code string) error {
	if code == "" {
		return c.JSON(http.StatusBadRequest, RequiredOutcome("code"))
	}

	result, err := h.lookup.LookupCode(system, code)
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return c.JSON(http.StatusNotFound, NewOperationOutcome("error", "not-found", "code not found: "+code))
	case errors.Is(err, ErrUnsupportedSystem):
		return c.JSON(http.StatusBadRequest, NewOperationOutcome("error", "not-supported", err.Error()))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, ErrorOutcome(err.Error()))
	}

	return c.JSON(http.StatusOK, lookupParameters(result))
}

func lookupParameters(r *LookupResult) *Parameters {
	p := NewParameters()
	if r.Name != "" {
		p.AddString("name", r.Name)
	}
	if r.Version != "" {
		p.AddString("version", r.Version)
	}
	if r.Display != "" {
		p.AddString("display", r.Display)
	}
	p.AddBoolean("abstract", r.Abstract)
	for _, prop := range r.Property {
		p.AddPart("property",
			Parameter{Name: "code", ValueCode: prop.Code},
			Parameter{Name: "value", ValueCode: prop.Value},
		)
	}
	return p
}
