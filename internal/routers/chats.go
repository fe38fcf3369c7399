package routers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"tokenrelay/internal/setup"
	"tokenrelay/internal/shared"
)

func (rr *RelayRouter) GetChat(cc echo.Context) error {
	c := cc.(*setup.Context)
	chatID := c.Param("chat_id")

	chatRecord, err := rr.chats.GetChat(c.Request().Context(), chatID)
	if err != nil {
		if errors.Is(err, shared.ErrChatNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "chat not found"})
		}
		c.Log.Errorw("error fetching chat", "chat_id", chatID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "error retrieving chat"})
	}
	if chatRecord.UserID != c.User.UserID {
		return c.JSON(shared.ErrNotChatOwner.StatusCode, map[string]string{"error": shared.ErrNotChatOwner.Err.Error()})
	}

	return c.JSON(http.StatusOK, chatRecord)
}

func (rr *RelayRouter) DeleteChat(cc echo.Context) error {
	c := cc.(*setup.Context)
	chatID := c.Param("chat_id")

	chatRecord, err := rr.chats.GetChat(c.Request().Context(), chatID)
	if err != nil {
		if errors.Is(err, shared.ErrChatNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "chat not found"})
		}
		c.Log.Errorw("error fetching chat", "chat_id", chatID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete chat"})
	}
	if chatRecord.UserID != c.User.UserID {
		return c.JSON(shared.ErrNotChatOwner.StatusCode, map[string]string{"error": shared.ErrNotChatOwner.Err.Error()})
	}

	if err := rr.chats.DeleteChat(c.Request().Context(), chatID); err != nil {
		c.Log.Errorw("error deleting chat", "chat_id", chatID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete chat"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "chat deleted successfully"})
}
