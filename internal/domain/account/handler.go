package account

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patients/internal/platform/auth"
	"github.com/ehr/patients/internal/platform/httperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts signup and login on g, and profile behind
// requireAuth.
func (h *Handler) RegisterRoutes(g *echo.Group, requireAuth echo.MiddlewareFunc) {
	g.POST("/signup", h.Signup)
	g.POST("/login", h.Login)
	g.GET("/profile", h.Profile, requireAuth)
}

// credentials is accepted as a form post or a JSON body.
type credentials struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func bindCredentials(c echo.Context) (credentials, error) {
	var in credentials
	if err := c.Bind(&in); err != nil {
		return in, err
	}
	if strings.TrimSpace(in.Username) == "" {
		return in, httperr.Validation("username", "is required")
	}
	if in.Password == "" {
		return in, httperr.Validation("password", "is required")
	}
	return in, nil
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Signup(c echo.Context) error {
	in, err := bindCredentials(c)
	if err != nil {
		return err
	}
	if err := h.svc.Signup(c.Request().Context(), in.Username, in.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: fmt.Sprintf("User '%s' created successfully", in.Username)})
}

func (h *Handler) Login(c echo.Context) error {
	in, err := bindCredentials(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.Login(c.Request().Context(), in.Username, in.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

type profileResponse struct {
	Message  string    `json:"message"`
	UserData *auth.User `json:"user_data"`
}

func (h *Handler) Profile(c echo.Context) error {
	u, ok := auth.UserFromContext(c.Request().Context())
	if !ok {
		return auth.ErrMissingToken
	}
	return c.JSON(http.StatusOK, profileResponse{
		Message:  fmt.Sprintf("Welcome back, %s", u.Username),
		UserData: u,
	})
}
