package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsechat/pulsechat-server/internal/apierrors"
	"github.com/pulsechat/pulsechat-server/internal/directmessage"
	"github.com/pulsechat/pulsechat-server/internal/group"
	"github.com/pulsechat/pulsechat-server/internal/groupmessage"
	"github.com/pulsechat/pulsechat-server/internal/metrics"
	"github.com/pulsechat/pulsechat-server/internal/offlinequeue"
	"github.com/pulsechat/pulsechat-server/internal/presence"
	"github.com/pulsechat/pulsechat-server/internal/registry"
	"github.com/pulsechat/pulsechat-server/internal/sanitize"
	"github.com/pulsechat/pulsechat-server/internal/user"
)

// Router is the Message Router (C6): a single dispatcher shared by every socket, wiring the Connection Registry, the
// presence/offline-queue cache, and the durable-log repositories into the five frame handlers of spec §4.4.
type Router struct {
	registry *registry.Registry
	presence *presence.Store
	offline  *offlinequeue.Store
	users    user.Repository
	directs  directmessage.Repository
	groups   group.Repository
	groupMsg groupmessage.Repository
	log      zerolog.Logger

	// cacheOpTimeout bounds every presence/offline-queue round trip so a struggling cache cannot stall a reader
	// goroutine indefinitely (SPEC_FULL.md §4.7 CacheOpTimeout).
	cacheOpTimeout time.Duration
	// logQueryTimeout bounds every durable-log round trip (SPEC_FULL.md §4.7 LogQueryTimeout).
	logQueryTimeout time.Duration
}

// NewRouter constructs a Router from its dependencies.
func NewRouter(
	reg *registry.Registry,
	pres *presence.Store,
	offline *offlinequeue.Store,
	users user.Repository,
	directs directmessage.Repository,
	groups group.Repository,
	groupMsg groupmessage.Repository,
	cacheOpTimeout, logQueryTimeout time.Duration,
	logger zerolog.Logger,
) *Router {
	return &Router{
		registry:        reg,
		presence:        pres,
		offline:         offline,
		users:           users,
		directs:         directs,
		groups:          groups,
		groupMsg:        groupMsg,
		cacheOpTimeout:  cacheOpTimeout,
		logQueryTimeout: logQueryTimeout,
		log:             logger,
	}
}

// PresenceEvictionCallback builds the registry's onEmpty callback: clears the presence key once a user's last socket
// on this node disconnects (spec §4.3). Wired in at registry construction time, before the Router itself exists,
// since the registry must be built first and handed to NewRouter.
func PresenceEvictionCallback(store *presence.Store, cacheOpTimeout time.Duration, logger zerolog.Logger) func(userID uuid.UUID) {
	return func(userID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer cancel()
		if err := store.Delete(ctx, userID); err != nil {
			logger.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to clear presence on disconnect")
		}
	}
}

// Connect registers a new socket for userID, marks it online in presence, and replays anything queued while the user
// had no live socket (spec §4.5). Returns a teardown func the caller must invoke exactly once when the socket
// closes.
func (rt *Router) Connect(ctx context.Context, c *Client) func() {
	rt.registry.Register(c.userID, c)
	metrics.ActiveSockets.Inc()

	ctx, cancel := context.WithTimeout(ctx, rt.cacheOpTimeout)
	if err := rt.presence.Set(ctx, c.userID); err != nil {
		rt.log.Warn().Err(err).Str("user_id", c.userID.String()).Msg("failed to set presence on connect")
	}
	cancel()

	rt.replayOffline(c)

	return func() {
		rt.registry.Unregister(c.userID, c)
		metrics.ActiveSockets.Dec()
	}
}

// replayOffline implements C7: drain the queue, hydrate message bodies, emit one messages.offline frame, and mark
// direct messages delivered.
func (rt *Router) replayOffline(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cacheOpTimeout)
	entries, err := rt.offline.Drain(ctx, c.userID)
	cancel()
	if err != nil {
		rt.log.Error().Err(err).Str("user_id", c.userID.String()).Msg("failed to drain offline queue")
		return
	}
	if len(entries) == 0 {
		return
	}

	var directIDs, groupIDs []uuid.UUID
	for _, e := range entries {
		switch e.Kind {
		case offlinequeue.KindDirect:
			directIDs = append(directIDs, e.MessageID)
		case offlinequeue.KindGroup:
			groupIDs = append(groupIDs, e.MessageID)
		}
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), rt.logQueryTimeout)
	defer dbCancel()

	directByID := map[uuid.UUID]*directmessage.Message{}
	if len(directIDs) > 0 {
		msgs, err := rt.directs.GetByIDs(dbCtx, directIDs)
		if err != nil {
			rt.log.Error().Err(err).Msg("failed to hydrate offline direct messages")
		}
		for _, m := range msgs {
			directByID[m.ID] = m
		}
	}

	groupByID := map[uuid.UUID]*groupmessage.Message{}
	if len(groupIDs) > 0 {
		msgs, err := rt.groupMsg.GetByIDs(dbCtx, groupIDs)
		if err != nil {
			rt.log.Error().Err(err).Msg("failed to hydrate offline group messages")
		}
		for _, m := range msgs {
			groupByID[m.ID] = m
		}
	}

	batch := make([]OfflineMessage, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case offlinequeue.KindDirect:
			m, ok := directByID[e.MessageID]
			if !ok {
				continue
			}
			senderName := rt.lookupUsername(dbCtx, m.SenderID)
			batch = append(batch, OfflineMessage{Kind: "direct", Payload: marshal(MessageNewFrame{
				Type:           TypeMessageNew,
				MessageID:      m.ID,
				SenderID:       m.SenderID,
				SenderUsername: senderName,
				RecipientID:    m.RecipientID,
				Content:        m.Content,
				MessageType:    m.Type,
				CreatedAt:      m.CreatedAt,
			})})
		case offlinequeue.KindGroup:
			m, ok := groupByID[e.MessageID]
			if !ok {
				continue
			}
			batch = append(batch, OfflineMessage{Kind: "group", Payload: marshal(GroupMessageNewFrame{
				Type:        TypeGroupMessageNew,
				MessageID:   m.ID,
				GroupID:     m.GroupID,
				SenderID:    m.SenderID,
				Content:     m.Content,
				MessageType: m.Type,
				CreatedAt:   m.CreatedAt,
			})})
		}
	}

	c.enqueue(marshal(MessagesOfflineFrame{Type: TypeMessagesOffline, Messages: batch, Count: len(batch)}))

	if len(directIDs) > 0 {
		if err := rt.directs.MarkDeliveredBatch(dbCtx, directIDs); err != nil {
			rt.log.Error().Err(err).Msg("failed to mark offline direct messages delivered")
		}
	}
}

func (rt *Router) lookupUsername(ctx context.Context, userID uuid.UUID) string {
	u, err := rt.users.GetByID(ctx, userID)
	if err != nil {
		return ""
	}
	return u.Username
}

// Dispatch decodes one inbound frame and routes it to the matching handler (spec §4.4). Unknown types and frames
// that fail to parse as JSON get an error frame; the connection stays open either way (spec §7).
func (rt *Router) Dispatch(c *Client, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.ParseError), Message: "invalid JSON frame"}))
		return
	}

	switch env.Type {
	case TypeMessageSend:
		var f MessageSendFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.ParseError), Message: "invalid message.send frame"}))
			return
		}
		rt.handleDirectMessage(c, f)
	case TypeGroupMessageSend:
		var f GroupMessageSendFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.ParseError), Message: "invalid message.group.send frame"}))
			return
		}
		rt.handleGroupMessage(c, f)
	case TypeMessageRead:
		var f MessageReadFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.ParseError), Message: "invalid message.read frame"}))
			return
		}
		rt.handleReadReceipt(c, f)
	case TypeTyping:
		var f TypingFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.ParseError), Message: "invalid typing frame"}))
			return
		}
		rt.handleTyping(c, f)
	case TypePing:
		rt.handleHeartbeat(c)
	default:
		c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.ValidationError), Message: "unknown frame type"}))
	}
}

// handleDirectMessage implements the direct-message handler (spec §4.4).
func (rt *Router) handleDirectMessage(c *Client, f MessageSendFrame) {
	if f.RecipientID == c.userID {
		rt.ackError(c, uuid.Nil, apierrors.ValidationError, "cannot send a message to yourself")
		return
	}
	content := sanitize.Content(f.Content)
	if len(content) < 1 || len(content) > directmessage.MaxContentLength {
		rt.ackError(c, uuid.Nil, apierrors.ValidationError, "content must be 1-10000 characters")
		return
	}
	msgType := f.MessageType
	if msgType == "" {
		msgType = "text"
	}

	ctx, cancel := context.WithTimeout(context.Background(), rt.logQueryTimeout)
	defer cancel()
	if _, err := rt.users.GetByID(ctx, f.RecipientID); err != nil {
		rt.ackError(c, uuid.Nil, apierrors.MissingRecipient, "recipient does not exist")
		return
	}

	messageID := uuid.New()
	createdAt := time.Now().UTC()

	presenceCtx, presenceCancel := context.WithTimeout(context.Background(), rt.cacheOpTimeout)
	online, err := rt.presence.IsOnline(presenceCtx, f.RecipientID)
	presenceCancel()
	if err != nil {
		rt.log.Warn().Err(err).Msg("presence check failed, treating recipient as offline")
	}

	if online {
		go rt.deliverDirectOnline(c, f, messageID, createdAt, content, msgType)
		return
	}
	rt.deliverDirectOffline(c, f, messageID, createdAt, content, msgType)
}

func (rt *Router) deliverDirectOnline(c *Client, f MessageSendFrame, messageID uuid.UUID, createdAt time.Time, content, msgType string) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.logQueryTimeout)
	defer cancel()

	deliveredAt := createdAt
	err := rt.directs.Create(ctx, directmessage.CreateParams{
		ID: messageID, SenderID: c.userID, RecipientID: f.RecipientID,
		Content: content, Type: msgType, CreatedAt: createdAt, DeliveredAt: &deliveredAt,
	})

	senderName := rt.lookupUsername(ctx, c.userID)
	frame := marshal(MessageNewFrame{
		Type: TypeMessageNew, MessageID: messageID, SenderID: c.userID, SenderUsername: senderName,
		RecipientID: f.RecipientID, Content: content, MessageType: msgType, CreatedAt: createdAt,
	})
	for _, sock := range rt.registry.SocketsFor(f.RecipientID) {
		if client, ok := sock.(*Client); ok {
			client.enqueue(frame)
		}
	}

	if err != nil {
		rt.log.Error().Err(err).Str("message_id", messageID.String()).Msg("failed to persist direct message")
		metrics.PersistFailures.WithLabelValues("direct").Inc()
		rt.ackError(c, messageID, apierrors.PersistFailed, "failed to persist message")
		return
	}
	metrics.MessagesRouted.WithLabelValues("direct", "delivered").Inc()
	c.enqueue(marshal(MessageAckFrame{Type: TypeMessageAck, MessageID: messageID, Status: AckDelivered, Timestamp: createdAt}))
}

func (rt *Router) deliverDirectOffline(c *Client, f MessageSendFrame, messageID uuid.UUID, createdAt time.Time, content, msgType string) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.logQueryTimeout)
	defer cancel()

	err := rt.directs.Create(ctx, directmessage.CreateParams{
		ID: messageID, SenderID: c.userID, RecipientID: f.RecipientID,
		Content: content, Type: msgType, CreatedAt: createdAt, DeliveredAt: nil,
	})
	if err != nil {
		rt.log.Error().Err(err).Str("message_id", messageID.String()).Msg("failed to persist direct message")
		metrics.PersistFailures.WithLabelValues("direct").Inc()
		rt.ackError(c, messageID, apierrors.PersistFailed, "failed to persist message")
		return
	}

	queueCtx, queueCancel := context.WithTimeout(context.Background(), rt.cacheOpTimeout)
	defer queueCancel()
	if err := rt.offline.Push(queueCtx, f.RecipientID, offlinequeue.Entry{MessageID: messageID, Kind: offlinequeue.KindDirect}); err != nil {
		rt.log.Error().Err(err).Msg("failed to push offline queue entry")
	}

	metrics.MessagesRouted.WithLabelValues("direct", "queued").Inc()
	c.enqueue(marshal(MessageAckFrame{Type: TypeMessageAck, MessageID: messageID, Status: AckQueued, Timestamp: createdAt}))
}

// handleGroupMessage implements the group-message handler (spec §4.4).
func (rt *Router) handleGroupMessage(c *Client, f GroupMessageSendFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.logQueryTimeout)
	defer cancel()

	isMember, err := rt.groups.IsMember(ctx, f.GroupID, c.userID)
	if err != nil || !isMember {
		rt.ackError(c, uuid.Nil, apierrors.NotGroupMember, "not a member of this group")
		return
	}

	content := sanitize.Content(f.Content)
	if len(content) < 1 || len(content) > groupmessage.MaxContentLength {
		rt.ackError(c, uuid.Nil, apierrors.ValidationError, "content must be 1-10000 characters")
		return
	}
	msgType := f.MessageType
	if msgType == "" {
		msgType = "text"
	}

	messageID := uuid.New()
	createdAt := time.Now().UTC()

	if err := rt.groupMsg.Create(ctx, groupmessage.CreateParams{
		ID: messageID, GroupID: f.GroupID, SenderID: c.userID, Content: content, Type: msgType, CreatedAt: createdAt,
	}); err != nil {
		rt.log.Error().Err(err).Str("message_id", messageID.String()).Msg("failed to persist group message")
		metrics.PersistFailures.WithLabelValues("group").Inc()
		rt.ackError(c, messageID, apierrors.PersistFailed, "failed to persist message")
		return
	}

	memberIDs, err := rt.groups.MemberIDs(ctx, f.GroupID)
	if err != nil {
		rt.log.Error().Err(err).Msg("failed to list group members for fan-out")
		metrics.MessagesRouted.WithLabelValues("group", "delivered").Inc()
		c.enqueue(marshal(MessageAckFrame{Type: TypeMessageAck, MessageID: messageID, Status: AckDelivered, Timestamp: createdAt}))
		return
	}

	var others []uuid.UUID
	for _, id := range memberIDs {
		if id != c.userID {
			others = append(others, id)
		}
	}

	presenceCtx, presenceCancel := context.WithTimeout(context.Background(), rt.cacheOpTimeout)
	onlineByID := rt.registry.ManyLocallyOnline(others)
	remoteCheck := others[:0:0]
	for _, id := range others {
		if !onlineByID[id] {
			remoteCheck = append(remoteCheck, id)
		}
	}
	remoteOnline, presErr := rt.presence.ManyOnline(presenceCtx, remoteCheck)
	presenceCancel()
	if presErr != nil {
		rt.log.Warn().Err(presErr).Msg("batch presence check failed during group fan-out")
	}

	frame := marshal(GroupMessageNewFrame{
		Type: TypeGroupMessageNew, MessageID: messageID, GroupID: f.GroupID, SenderID: c.userID,
		Content: content, MessageType: msgType, CreatedAt: createdAt,
	})

	for _, id := range others {
		if onlineByID[id] {
			for _, sock := range rt.registry.SocketsFor(id) {
				if client, ok := sock.(*Client); ok {
					client.enqueue(frame)
				}
			}
			continue
		}
		if remoteOnline[id] {
			// Online on another node but not this one: this node has no local socket to deliver to, so there is
			// nothing further to do here — that node's own registry already fanned the frame out when it received
			// it through whatever cross-node transport the deployment uses. Out of scope for this single-node core.
			continue
		}
		pushCtx, pushCancel := context.WithTimeout(context.Background(), rt.cacheOpTimeout)
		if err := rt.offline.Push(pushCtx, id, offlinequeue.Entry{MessageID: messageID, Kind: offlinequeue.KindGroup}); err != nil {
			rt.log.Error().Err(err).Str("user_id", id.String()).Msg("failed to push group offline queue entry")
		}
		pushCancel()
	}

	// The sender's own other live sockets (a second device, say) receive the echo too — only the originating socket
	// is excluded, since it already gets the ack (spec §9, resolved: no dedup of the sender's own fan-out).
	for _, sock := range rt.registry.SocketsFor(c.userID) {
		if client, ok := sock.(*Client); ok && client != c {
			client.enqueue(frame)
		}
	}

	metrics.MessagesRouted.WithLabelValues("group", "delivered").Inc()
	c.enqueue(marshal(MessageAckFrame{Type: TypeMessageAck, MessageID: messageID, Status: AckDelivered, Timestamp: createdAt}))
}

// handleTyping implements the typing handler (spec §4.4): fire-and-forget, rate-limited to 1/s per (sender, target).
func (rt *Router) handleTyping(c *Client, f TypingFrame) {
	var target uuid.UUID
	switch {
	case f.RecipientID != nil:
		target = *f.RecipientID
	case f.GroupID != nil:
		target = *f.GroupID
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rt.cacheOpTimeout)
	allowed, err := rt.presence.TryMarkTyping(ctx, c.userID, target)
	cancel()
	if err != nil || !allowed {
		return
	}

	notify := marshal(TypingNotifyFrame{Type: TypeTyping, UserID: c.userID, RecipientID: f.RecipientID, GroupID: f.GroupID})

	if f.RecipientID != nil {
		for _, sock := range rt.registry.SocketsFor(*f.RecipientID) {
			if client, ok := sock.(*Client); ok {
				client.enqueue(notify)
			}
		}
		return
	}

	memberCtx, memberCancel := context.WithTimeout(context.Background(), rt.logQueryTimeout)
	memberIDs, err := rt.groups.MemberIDs(memberCtx, *f.GroupID)
	memberCancel()
	if err != nil {
		return
	}
	for _, id := range memberIDs {
		if id == c.userID {
			continue
		}
		for _, sock := range rt.registry.SocketsFor(id) {
			if client, ok := sock.(*Client); ok {
				client.enqueue(notify)
			}
		}
	}
}

// handleReadReceipt implements the read-receipt handler (spec §4.4). It tries the direct-message repository first,
// then the group-message one, since a message_id's kind is not carried on the wire.
func (rt *Router) handleReadReceipt(c *Client, f MessageReadFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.logQueryTimeout)
	defer cancel()

	msg, updated, err := rt.directs.MarkRead(ctx, f.MessageID, c.userID)
	switch {
	case err == nil:
		if updated {
			notify := marshal(MessageReadNotifyFrame{Type: TypeMessageRead, MessageID: f.MessageID, ReaderID: c.userID, ReadAt: *msg.ReadAt})
			for _, sock := range rt.registry.SocketsFor(msg.SenderID) {
				if client, ok := sock.(*Client); ok {
					client.enqueue(notify)
				}
			}
		}
		return
	case errors.Is(err, directmessage.ErrForbidden):
		c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.Forbidden), Message: "not the recipient of this message"}))
		return
	case !errors.Is(err, directmessage.ErrNotFound):
		c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.PersistFailed), Message: "failed to record read receipt"}))
		return
	}

	senderID, created, err := rt.groupMsg.MarkRead(ctx, f.MessageID, c.userID)
	if err != nil {
		if errors.Is(err, groupmessage.ErrNotFound) {
			c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.NotFound), Message: "message not found"}))
			return
		}
		c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(apierrors.PersistFailed), Message: "failed to record read receipt"}))
		return
	}
	if !created {
		return
	}
	notify := marshal(MessageReadNotifyFrame{Type: TypeMessageRead, MessageID: f.MessageID, ReaderID: c.userID, ReadAt: time.Now().UTC()})
	for _, sock := range rt.registry.SocketsFor(senderID) {
		if client, ok := sock.(*Client); ok {
			client.enqueue(notify)
		}
	}
}

// handleHeartbeat implements the heartbeat handler (spec §4.4): refresh presence TTL, reply with pong.
func (rt *Router) handleHeartbeat(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cacheOpTimeout)
	if err := rt.presence.Set(ctx, c.userID); err != nil {
		rt.log.Warn().Err(err).Str("user_id", c.userID.String()).Msg("failed to refresh presence on heartbeat")
	}
	cancel()
	c.enqueue(marshal(PongFrame{Type: TypePong, Timestamp: time.Now().UTC()}))
}

// ackError sends a message.ack with status=error when messageID is known, otherwise a plain error frame. Used by
// validation failures in the send handlers that occur before a message_id has been generated.
func (rt *Router) ackError(c *Client, messageID uuid.UUID, code apierrors.Code, message string) {
	if messageID == uuid.Nil {
		c.enqueue(marshal(ErrorFrame{Type: TypeError, Code: string(code), Message: message}))
		return
	}
	c.enqueue(marshal(MessageAckFrame{Type: TypeMessageAck, MessageID: messageID, Status: AckError, Code: string(code), Timestamp: time.Now().UTC()}))
}
