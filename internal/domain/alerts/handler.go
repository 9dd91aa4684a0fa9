package alerts

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("patient", "doctor", "company"))
	g.GET("/alerts", h.List)
	g.GET("/alerts/feed", h.Feed)
	g.GET("/alerts/unread-count", h.UnreadCount)
	g.GET("/alerts/:id", h.Get)
	g.POST("/alerts/:id/read", h.MarkAsRead)

	// Alert creation is a back-office concern; end users only consume.
	create := api.Group("", auth.RequireRole("doctor", "company"))
	create.POST("/alerts", h.Create)
}

func serviceError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	case errors.Is(err, ErrCreation), errors.Is(err, ErrSubscription):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type createAlertRequest struct {
	RecipientID string `json:"recipient_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Source      string `json:"source"`
	IsUrgent    bool   `json:"is_urgent"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createAlertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	a := &Alert{
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Title:       req.Title,
		Body:        req.Body,
		Source:      req.Source,
		IsUrgent:    req.IsUrgent,
	}
	if a.Source == "" {
		a.Source = auth.UserIDFromContext(c.Request().Context())
	}

	if err := h.svc.Create(c.Request().Context(), a); err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) List(c echo.Context) error {
	recipientID := auth.UserIDFromContext(c.Request().Context())
	p := pagination.FromContext(c)

	items, total, err := h.svc.ListByRecipient(c.Request().Context(), recipientID, p.Limit, p.Offset)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Feed(c echo.Context) error {
	recipientID := auth.UserIDFromContext(c.Request().Context())
	feed, err := h.svc.Feed(c.Request().Context(), recipientID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, feed)
}

func (h *Handler) UnreadCount(c echo.Context) error {
	recipientID := auth.UserIDFromContext(c.Request().Context())
	n, err := h.svc.UnreadCount(c.Request().Context(), recipientID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"unread": n})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) MarkAsRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.MarkAlertAsRead(c.Request().Context(), id); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
