package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsechat/pulsechat-server/internal/directmessage"
	"github.com/pulsechat/pulsechat-server/internal/group"
	"github.com/pulsechat/pulsechat-server/internal/groupmessage"
	"github.com/pulsechat/pulsechat-server/internal/httputil"
)

// fakeDirectRepo is a minimal in-memory directmessage.Repository for handler tests.
type fakeDirectRepo struct {
	mu           sync.Mutex
	summaries    []*directmessage.ConversationSummary
	conversation []*directmessage.Message
	total        int
	markReadErr  error
}

func (f *fakeDirectRepo) Create(context.Context, directmessage.CreateParams) error { return nil }
func (f *fakeDirectRepo) MarkDeliveredBatch(context.Context, []uuid.UUID) error     { return nil }
func (f *fakeDirectRepo) MarkRead(_ context.Context, messageID, _ uuid.UUID) (*directmessage.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return nil, false, f.markReadErr
	}
	return &directmessage.Message{ID: messageID}, true, nil
}
func (f *fakeDirectRepo) GetByIDs(context.Context, []uuid.UUID) ([]*directmessage.Message, error) {
	return nil, nil
}
func (f *fakeDirectRepo) ListConversations(context.Context, uuid.UUID) ([]*directmessage.ConversationSummary, error) {
	return f.summaries, nil
}
func (f *fakeDirectRepo) ListConversation(context.Context, uuid.UUID, uuid.UUID, int, int) ([]*directmessage.Message, error) {
	return f.conversation, nil
}
func (f *fakeDirectRepo) CountConversation(context.Context, uuid.UUID, uuid.UUID) (int, error) {
	return f.total, nil
}

var _ directmessage.Repository = (*fakeDirectRepo)(nil)

// fakeGroupRepo is a minimal in-memory group.Repository for handler tests.
type fakeGroupRepo struct {
	groups    []*group.Group
	members   map[uuid.UUID][]uuid.UUID
	createErr error
}

func (f *fakeGroupRepo) Create(_ context.Context, name string, creatorID uuid.UUID) (*group.Group, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	g := &group.Group{ID: uuid.New(), Name: name, CreatorID: creatorID, CreatedAt: time.Now().UTC()}
	f.groups = append(f.groups, g)
	if f.members == nil {
		f.members = map[uuid.UUID][]uuid.UUID{}
	}
	f.members[g.ID] = append(f.members[g.ID], creatorID)
	return g, nil
}
func (f *fakeGroupRepo) GetByID(context.Context, uuid.UUID) (*group.Group, error)         { return nil, group.ErrNotFound }
func (f *fakeGroupRepo) IsMember(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	for _, id := range f.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeGroupRepo) MemberIDs(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return f.members[groupID], nil
}
func (f *fakeGroupRepo) ListForUser(context.Context, uuid.UUID) ([]*group.Group, error) {
	return f.groups, nil
}

var _ group.Repository = (*fakeGroupRepo)(nil)

// fakeGroupMessageRepo is a minimal in-memory groupmessage.Repository for handler tests.
type fakeGroupMessageRepo struct {
	messages []*groupmessage.Message
	total    int
}

func (f *fakeGroupMessageRepo) Create(context.Context, groupmessage.CreateParams) error { return nil }
func (f *fakeGroupMessageRepo) GetByIDs(context.Context, []uuid.UUID) ([]*groupmessage.Message, error) {
	return nil, nil
}
func (f *fakeGroupMessageRepo) MarkRead(context.Context, uuid.UUID, uuid.UUID) (uuid.UUID, bool, error) {
	return uuid.Nil, false, nil
}
func (f *fakeGroupMessageRepo) ListForGroup(context.Context, uuid.UUID, int, int) ([]*groupmessage.Message, error) {
	return f.messages, nil
}
func (f *fakeGroupMessageRepo) CountForGroup(context.Context, uuid.UUID) (int, error) {
	return f.total, nil
}

var _ groupmessage.Repository = (*fakeGroupMessageRepo)(nil)

// withTestUser injects a fixed userID into Locals ahead of every request, standing in for auth.RequireAuth.
func withTestUser(userID uuid.UUID) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals("userID", userID)
		return c.Next()
	}
}

func decodeEnvelope(t *testing.T, resp *http.Response, dataDst any) httputil.Envelope {
	t.Helper()
	var env struct {
		Success    bool                 `json:"success"`
		Data       json.RawMessage      `json:"data"`
		Pagination *httputil.Pagination `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if dataDst != nil {
		if err := json.Unmarshal(env.Data, dataDst); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	out := httputil.Envelope{Success: env.Success}
	if env.Pagination != nil {
		out.Pagination = env.Pagination
	}
	return out
}

func TestListConversations(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	directs := &fakeDirectRepo{summaries: []*directmessage.ConversationSummary{
		{PeerID: uuid.New(), LastMessage: "hi", LastMessageAt: time.Now(), UnreadCount: 2},
	}}
	h := NewMessageHandler(directs, &fakeGroupRepo{}, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Get("/conversations", withTestUser(userID), h.ListConversations)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/conversations", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []directmessage.ConversationSummary
	env := decodeEnvelope(t, resp, &got)
	if !env.Success {
		t.Error("success = false, want true")
	}
	if len(got) != 1 || got[0].UnreadCount != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestListConversationPagination(t *testing.T) {
	t.Parallel()

	userID, peerID := uuid.New(), uuid.New()
	directs := &fakeDirectRepo{
		conversation: []*directmessage.Message{{ID: uuid.New(), SenderID: peerID, RecipientID: userID, Content: "hey"}},
		total:        125,
	}
	h := NewMessageHandler(directs, &fakeGroupRepo{}, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Get("/conversation/:peer", withTestUser(userID), h.ListConversation)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/conversation/"+peerID.String()+"?limit=50&offset=50", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var got []directmessage.Message
	env := decodeEnvelope(t, resp, &got)
	if env.Pagination == nil {
		t.Fatal("pagination missing")
	}
	want := httputil.NewPagination(2, 50, 125)
	if *env.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", *env.Pagination, want)
	}
}

func TestListConversationInvalidPeer(t *testing.T) {
	t.Parallel()

	h := NewMessageHandler(&fakeDirectRepo{}, &fakeGroupRepo{}, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Get("/conversation/:peer", withTestUser(uuid.New()), h.ListConversation)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/conversation/not-a-uuid", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	messageID := uuid.New()
	h := NewMessageHandler(&fakeDirectRepo{}, &fakeGroupRepo{}, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Post("/messages/:id/read", withTestUser(uuid.New()), h.MarkRead)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/messages/"+messageID.String()+"/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMarkReadForbidden(t *testing.T) {
	t.Parallel()

	directs := &fakeDirectRepo{markReadErr: directmessage.ErrForbidden}
	h := NewMessageHandler(directs, &fakeGroupRepo{}, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Post("/messages/:id/read", withTestUser(uuid.New()), h.MarkRead)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/messages/"+uuid.New().String()+"/read", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestListGroupMessagesNotMember(t *testing.T) {
	t.Parallel()

	groupID := uuid.New()
	groups := &fakeGroupRepo{members: map[uuid.UUID][]uuid.UUID{}}
	h := NewMessageHandler(&fakeDirectRepo{}, groups, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Get("/groups/:id/messages", withTestUser(uuid.New()), h.ListGroupMessages)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/groups/"+groupID.String()+"/messages", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestListGroupMessagesAsMember(t *testing.T) {
	t.Parallel()

	userID, groupID := uuid.New(), uuid.New()
	groups := &fakeGroupRepo{members: map[uuid.UUID][]uuid.UUID{groupID: {userID}}}
	groupMsg := &fakeGroupMessageRepo{
		messages: []*groupmessage.Message{{ID: uuid.New(), GroupID: groupID, SenderID: userID, Content: "hi"}},
		total:    1,
	}
	h := NewMessageHandler(&fakeDirectRepo{}, groups, groupMsg, zerolog.Nop())

	app := fiber.New()
	app.Get("/groups/:id/messages", withTestUser(userID), h.ListGroupMessages)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/groups/"+groupID.String()+"/messages", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []groupmessage.Message
	env := decodeEnvelope(t, resp, &got)
	if !env.Success || len(got) != 1 {
		t.Errorf("got %+v, success=%v", got, env.Success)
	}
}

func TestListMyGroups(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	groups := &fakeGroupRepo{groups: []*group.Group{{ID: uuid.New(), Name: "team"}}}
	h := NewMessageHandler(&fakeDirectRepo{}, groups, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Get("/groups/my", withTestUser(userID), h.ListMyGroups)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/groups/my", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var got []group.Group
	env := decodeEnvelope(t, resp, &got)
	if !env.Success || len(got) != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestCreateGroup(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	groups := &fakeGroupRepo{}
	h := NewMessageHandler(&fakeDirectRepo{}, groups, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Post("/groups", withTestUser(userID), h.CreateGroup)

	resp := postJSON(t, app, "/groups", fiber.Map{"name": "project team"})
	defer func() { _ = resp.Body.Close() }()

	var got group.Group
	env := decodeEnvelope(t, resp, &got)
	if !env.Success || got.Name != "project team" || got.CreatorID != userID {
		t.Errorf("got %+v", got)
	}
	if len(groups.groups) != 1 || groups.members[got.ID][0] != userID {
		t.Errorf("creator was not recorded as a member: %+v", groups.members)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	t.Parallel()

	groups := &fakeGroupRepo{}
	h := NewMessageHandler(&fakeDirectRepo{}, groups, &fakeGroupMessageRepo{}, zerolog.Nop())

	app := fiber.New()
	app.Post("/groups", withTestUser(uuid.New()), h.CreateGroup)

	resp := postJSON(t, app, "/groups", fiber.Map{"name": ""})
	defer func() { _ = resp.Body.Close() }()

	env := decodeEnvelope(t, resp, nil)
	if env.Success {
		t.Error("expected empty name to be rejected")
	}
	if len(groups.groups) != 0 {
		t.Error("expected no group to be created")
	}
}
