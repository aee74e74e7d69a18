package binding

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carlosapgomes/eqmd-sub012/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/bindings", h.ListBindings)
	admin.POST("/bindings", h.SetBinding)
	admin.GET("/bindings/:chat_user_id", h.GetBinding)
	admin.POST("/bindings/:chat_user_id/verify", h.VerifyBinding)
	admin.POST("/bindings/:chat_user_id/deactivate", h.DeactivateBinding)
	admin.POST("/identities/:key/deactivate", h.DeactivateIdentity)
}

type setRequest struct {
	ChatUserID   string `json:"chat_user_id"`
	SurrogateKey string `json:"surrogate_key"`
}

func (h *Handler) SetBinding(c echo.Context) error {
	var req setRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	key, err := uuid.Parse(req.SurrogateKey)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid surrogate_key")
	}
	b, err := h.svc.Set(c.Request().Context(), req.ChatUserID, key)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBinding(c echo.Context) error {
	id, err := chatUserParam(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBindings(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) VerifyBinding(c echo.Context) error {
	id, err := chatUserParam(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Verify(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeactivateBinding(c echo.Context) error {
	id, err := chatUserParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeactivateIdentity(c echo.Context) error {
	key, err := uuid.Parse(c.Param("key"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid key")
	}
	n, err := h.svc.DeactivateIdentity(c.Request().Context(), key)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"deactivated": n})
}

// Matrix ids contain '@' and ':' and usually arrive percent-encoded.
func chatUserParam(c echo.Context) (string, error) {
	id, err := url.PathUnescape(c.Param("chat_user_id"))
	if err != nil || id == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid chat_user_id")
	}
	return id, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "binding not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
