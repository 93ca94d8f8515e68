package patient

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patients/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the record endpoints on g. mw, typically bearer
// authentication, is applied to each route.
func (h *Handler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/view", h.ViewAll, mw...)
	g.GET("/patients", h.ListPatients, mw...)
	g.GET("/patient/:id", h.GetPatient, mw...)
	g.GET("/sort", h.SortPatients, mw...)
	g.POST("/create", h.CreatePatient, mw...)
	g.PUT("/edit/:id", h.UpdatePatient, mw...)
	g.DELETE("/delete/:id", h.DeletePatient, mw...)
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) ViewAll(c echo.Context) error {
	all, err := h.svc.All(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, all)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	views, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetPatient(c echo.Context) error {
	v, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SortPatients(c echo.Context) error {
	views, err := h.svc.Sort(c.Request().Context(), c.QueryParam("sort_by"), c.QueryParam("order"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return err
	}
	if _, err := h.svc.Create(c.Request().Context(), in); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, messageResponse{Message: "patient created successfully"})
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return err
	}
	if _, err := h.svc.Update(c.Request().Context(), c.Param("id"), in); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "patient updated successfully"})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "patient deleted successfully"})
}
