package dmroom

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carlosapgomes/eqmd-sub012/internal/domain/binding"
	"github.com/carlosapgomes/eqmd-sub012/pkg/pagination"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(admin *echo.Group) {
	admin.GET("/rooms", h.ListRooms)
	admin.POST("/rooms", h.ProvisionRoom)
	admin.GET("/rooms/:key", h.GetRoom)
}

type provisionRequest struct {
	SurrogateKey string `json:"surrogate_key"`
}

func (h *Handler) ProvisionRoom(c echo.Context) error {
	var req provisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	key, err := uuid.Parse(req.SurrogateKey)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid surrogate_key")
	}
	room, err := h.registry.Provision(c.Request().Context(), key)
	if errors.Is(err, binding.ErrUnbound) {
		return echo.NewHTTPError(http.StatusConflict, "identity has no verified binding")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, room)
}

func (h *Handler) GetRoom(c echo.Context) error {
	key, err := uuid.Parse(c.Param("key"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid key")
	}
	room, err := h.registry.RoomFor(c.Request().Context(), key)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, room)
}

func (h *Handler) ListRooms(c echo.Context) error {
	pg := pagination.FromContext(c)
	rooms, total, err := h.registry.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rooms, total, pg.Limit, pg.Offset))
}
