package taxonomy

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/digiscribe/internal/platform/auth"
	"github.com/ehr/digiscribe/internal/platform/fhir"
	"github.com/ehr/digiscribe/pkg/pagination"
)

// Searcher finds nodes whose keywords match free text after normalization.
type Searcher interface {
	SearchNodes(text string) []*Node
}

// Handler provides REST endpoints for browsing the loaded taxonomy.
type Handler struct {
	tree   *Tree
	search Searcher
}

func NewHandler(tree *Tree, search Searcher) *Handler {
	return &Handler{tree: tree, search: search}
}

// RegisterRoutes registers taxonomy routes on the API and FHIR groups.
func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	roles := auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleCoder)

	g := api.Group("/taxonomy", roles)
	g.GET("/nodes/:code", h.GetNode)
	g.GET("/search", h.Search)
	g.GET("/stats", h.Stats)

	fhirTerm := fhirGroup.Group("", roles)
	cs := NewCodeSystem(h.tree)
	fhir.NewLookupHandler(cs).RegisterRoutes(fhirTerm)
	fhir.NewSubsumesHandler(cs).RegisterRoutes(fhirTerm)
}

type nodeResponse struct {
	Node      NodeView             `json:"node"`
	Ancestors []NodeView           `json:"ancestors"`
	Children  *pagination.Response `json:"children"`
}

// GetNode handles GET /api/v1/taxonomy/nodes/:code. The path parameter is a
// code, or a node ID for structural nodes.
func (h *Handler) GetNode(c echo.Context) error {
	n, err := h.tree.Resolve(c.Param("code"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}

	ancestors := h.tree.AncestorsOf(n)
	resp := nodeResponse{Node: View(n), Ancestors: make([]NodeView, 0, len(ancestors))}
	for _, a := range ancestors {
		resp.Ancestors = append(resp.Ancestors, View(a))
	}

	p := pagination.FromContext(c)
	children := h.tree.ChildrenOf(n)
	start, end := p.Window(len(children))
	page := make([]NodeView, 0, end-start)
	for _, ch := range children[start:end] {
		page = append(page, View(ch))
	}
	resp.Children = pagination.NewResponse(page, len(children), p)

	return c.JSON(http.StatusOK, resp)
}

// Search handles GET /api/v1/taxonomy/search?q=...
func (h *Handler) Search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}

	nodes := h.search.SearchNodes(q)
	p := pagination.FromContext(c)
	start, end := p.Window(len(nodes))
	page := make([]NodeView, 0, end-start)
	for _, n := range nodes[start:end] {
		page = append(page, View(n))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(page, len(nodes), p))
}

type statsResponse struct {
	Stats
	Source string `json:"source"`
}

// Stats handles GET /api/v1/taxonomy/stats
func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse{Stats: h.tree.Stats(), Source: h.tree.Source()})
}

// Health handles GET /health/taxonomy. A handler only exists once a tree has
// loaded, so it always reports healthy.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"source":  h.tree.Source(),
		"version": h.tree.Version(),
		"nodes":   h.tree.Len(),
	})
}
