package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
)

// defaultMessageWindow is the message count returned when the client does not
// ask for a specific limit.
const defaultMessageWindow = 50

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("patient", "doctor", "company"))
	g.POST("/conversations", h.InitializeConversation)
	g.GET("/conversations", h.ListUserConversations)
	g.GET("/conversations/:id", h.GetConversation)
	g.PATCH("/conversations/:id/status", h.UpdateStatus)
	g.POST("/conversations/:id/messages", h.SendMessage)
	g.GET("/conversations/:id/messages", h.Messages)
	g.POST("/conversations/:id/read", h.MarkMessagesAsRead)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/conversations/:id/reconcile-index", h.ReconcileIndex)
}

func serviceError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, ErrCreation), errors.Is(err, ErrDelivery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type initializeConversationRequest struct {
	Initiator   Participant `json:"initiator"`
	Counterpart Participant `json:"counterpart"`
}

func (h *Handler) InitializeConversation(c echo.Context) error {
	var req initializeConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Initiator.ID == "" {
		req.Initiator.ID = auth.UserIDFromContext(c.Request().Context())
	}

	id, err := h.svc.InitializeConversation(c.Request().Context(), req.Initiator, req.Counterpart)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) ListUserConversations(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = auth.UserIDFromContext(c.Request().Context())
	}

	conversations, err := h.svc.ListUserConversations(c.Request().Context(), userID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, conversations)
}

func (h *Handler) GetConversation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	conv, err := h.svc.GetConversation(c.Request().Context(), id)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

type updateStatusRequest struct {
	Status ConversationStatus `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return serviceError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

func (h *Handler) SendMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	senderID := auth.UserIDFromContext(c.Request().Context())
	msg, err := h.svc.SendMessage(c.Request().Context(), id, senderID, req.Content, req.Type)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) Messages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	limit := defaultMessageWindow
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	msgs, err := h.svc.Messages(c.Request().Context(), id, limit)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *Handler) MarkMessagesAsRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	readerID := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.MarkMessagesAsRead(c.Request().Context(), id, readerID); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ReconcileIndex(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.ReconcileIndex(c.Request().Context(), id); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
