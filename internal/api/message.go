package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsechat/pulsechat-server/internal/apierrors"
	"github.com/pulsechat/pulsechat-server/internal/auth"
	"github.com/pulsechat/pulsechat-server/internal/directmessage"
	"github.com/pulsechat/pulsechat-server/internal/group"
	"github.com/pulsechat/pulsechat-server/internal/groupmessage"
	"github.com/pulsechat/pulsechat-server/internal/httputil"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// MessageHandler serves the REST-adjacent endpoints the realtime core needs to collaborate with (spec §4.6):
// conversation history, group message history, and a REST equivalent of the websocket read-receipt.
type MessageHandler struct {
	directs  directmessage.Repository
	groups   group.Repository
	groupMsg groupmessage.Repository
	log      zerolog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(directs directmessage.Repository, groups group.Repository, groupMsg groupmessage.Repository, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{directs: directs, groups: groups, groupMsg: groupMsg, log: logger}
}

// clampLimit bounds a client-supplied limit to [1, 100], defaulting to 50 (spec §4.6).
func clampLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func clampOffset(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ListConversations handles GET /api/v1/conversations: one row per peer with last-message preview and unread count.
func (h *MessageHandler) ListConversations(c fiber.Ctx) error {
	userID := auth.UserIDFromContext(c)

	summaries, err := h.directs.ListConversations(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list conversations")
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to list conversations"))
	}

	return httputil.Success(c, summaries)
}

// ListConversation handles GET /api/v1/conversation/{peer}?limit&offset: messages between the caller and peer,
// descending by created_at.
func (h *MessageHandler) ListConversation(c fiber.Ctx) error {
	userID := auth.UserIDFromContext(c)

	peerID, err := uuid.Parse(c.Params("peer"))
	if err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid peer id"))
	}

	limit := clampLimit(c.Query("limit"))
	offset := clampOffset(c.Query("offset"))

	messages, err := h.directs.ListConversation(c.Context(), userID, peerID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list conversation")
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to list conversation"))
	}

	total, err := h.directs.CountConversation(c.Context(), userID, peerID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count conversation")
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to list conversation"))
	}

	page := offset/limit + 1
	return httputil.SuccessPage(c, messages, httputil.NewPagination(page, limit, total))
}

// MarkRead handles POST /api/v1/messages/{id}/read, the REST equivalent of the websocket read-receipt for clients
// that mark messages read on load rather than live (spec §4.6).
func (h *MessageHandler) MarkRead(c fiber.Ctx) error {
	userID := auth.UserIDFromContext(c)

	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid message id"))
	}

	_, _, err = h.directs.MarkRead(c.Context(), messageID, userID)
	if err != nil {
		switch {
		case errors.Is(err, directmessage.ErrNotFound):
			return httputil.Fail(c, apierrors.New(apierrors.NotFound, "message not found"))
		case errors.Is(err, directmessage.ErrForbidden):
			return httputil.Fail(c, apierrors.New(apierrors.Forbidden, "not the recipient of this message"))
		default:
			h.log.Error().Err(err).Msg("failed to mark message read")
			return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to mark message read"))
		}
	}

	return httputil.Success(c, fiber.Map{"message_id": messageID.String()})
}

// CreateGroup handles POST /api/v1/groups: creates a group with the caller as its sole admin member (spec §3: name
// 1-100 chars). This is a user creating a group they participate in, not the administrative group-management
// surface (listing, role changes, deletion) spec.md §1 excludes.
func (h *MessageHandler) CreateGroup(c fiber.Ctx) error {
	userID := auth.UserIDFromContext(c)

	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid request body"))
	}
	if len(body.Name) < 1 || len(body.Name) > 100 {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "name must be 1-100 characters"))
	}

	g, err := h.groups.Create(c.Context(), body.Name, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create group")
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to create group"))
	}

	return httputil.Success(c, g)
}

// ListMyGroups handles GET /api/v1/groups/my.
func (h *MessageHandler) ListMyGroups(c fiber.Ctx) error {
	userID := auth.UserIDFromContext(c)

	groups, err := h.groups.ListForUser(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list groups")
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to list groups"))
	}

	return httputil.Success(c, groups)
}

// ListGroupMessages handles GET /api/v1/groups/{id}/messages?limit&offset.
func (h *MessageHandler) ListGroupMessages(c fiber.Ctx) error {
	userID := auth.UserIDFromContext(c)

	groupID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, apierrors.New(apierrors.ValidationError, "invalid group id"))
	}

	isMember, err := h.groups.IsMember(c.Context(), groupID, userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to check group membership")
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to list group messages"))
	}
	if !isMember {
		return httputil.Fail(c, apierrors.New(apierrors.NotGroupMember, "not a member of this group"))
	}

	limit := clampLimit(c.Query("limit"))
	offset := clampOffset(c.Query("offset"))

	messages, err := h.groupMsg.ListForGroup(c.Context(), groupID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list group messages")
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to list group messages"))
	}

	total, err := h.groupMsg.CountForGroup(c.Context(), groupID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to count group messages")
		return httputil.Fail(c, apierrors.New(apierrors.PersistFailed, "failed to list group messages"))
	}

	page := offset/limit + 1
	return httputil.SuccessPage(c, messages, httputil.NewPagination(page, limit, total))
}
