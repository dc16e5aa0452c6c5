package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/presence"
	"github.com/hitoshi/rollcall/internal/ratelimit"
	"github.com/hitoshi/rollcall/internal/roster"
)

// --- モック ---

type mockPresenceService struct {
	handleCheckFn func(ctx context.Context, req *presence.Request) (*presence.Result, error)

	requests []*presence.Request
}

func (m *mockPresenceService) HandleCheck(ctx context.Context, req *presence.Request) (*presence.Result, error) {
	m.requests = append(m.requests, req)
	if m.handleCheckFn != nil {
		return m.handleCheckFn(ctx, req)
	}
	return &presence.Result{MessageRef: "1700000000.000100"}, nil
}

func newTestWebhookHandler(t *testing.T, service *mockPresenceService) *WebhookHandler {
	t.Helper()
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	t.Cleanup(limiter.Stop)
	return NewWebhookHandler(service, limiter)
}

func commandForm(command string) url.Values {
	return url.Values{
		"command":    {command},
		"user_id":    {"U123"},
		"user_name":  {"alice"},
		"channel_id": {"C123"},
	}
}

func postForm(handler http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

// --- スラッシュコマンドのテスト ---

func TestHandleCommand_CheckinSuccess(t *testing.T) {
	service := &mockPresenceService{}
	h := newTestWebhookHandler(t, service)

	w := postForm(h.HandleCommand, "/slack/commands", commandForm("/checkin"))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if len(service.requests) != 1 {
		t.Fatalf("service called %d times, want 1", len(service.requests))
	}

	req := service.requests[0]
	if req.Direction != model.DirectionIn {
		t.Errorf("Direction = %q, want in", req.Direction)
	}
	if req.Trigger != presence.TriggerCommand {
		t.Errorf("Trigger = %q, want command", req.Trigger)
	}
	if req.UserID != "U123" || req.ChannelID != "C123" {
		t.Errorf("user/channel = %q/%q, want U123/C123", req.UserID, req.ChannelID)
	}
	if req.FallbackName != "alice" {
		t.Errorf("FallbackName = %q, want alice", req.FallbackName)
	}
}

func TestHandleCommand_CheckoutMapsToOut(t *testing.T) {
	service := &mockPresenceService{}
	h := newTestWebhookHandler(t, service)

	postForm(h.HandleCommand, "/slack/commands", commandForm("/checkout"))

	if len(service.requests) != 1 {
		t.Fatalf("service called %d times, want 1", len(service.requests))
	}
	if service.requests[0].Direction != model.DirectionOut {
		t.Errorf("Direction = %q, want out", service.requests[0].Direction)
	}
}

// 重複時はエフェメラル応答ボディで本人に通知されることを検証
func TestHandleCommand_DuplicateReturnsEphemeral(t *testing.T) {
	service := &mockPresenceService{
		handleCheckFn: func(ctx context.Context, req *presence.Request) (*presence.Result, error) {
			return &presence.Result{
				AlreadyActed: true,
				Notice:       "You are already checked in today :(.",
			}, nil
		},
	}
	h := newTestWebhookHandler(t, service)

	w := postForm(h.HandleCommand, "/slack/commands", commandForm("/checkin"))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	var resp ephemeralResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ResponseType != "ephemeral" {
		t.Errorf("response_type = %q, want ephemeral", resp.ResponseType)
	}
	if resp.Text != "You are already checked in today :(." {
		t.Errorf("text = %q, want duplicate notice", resp.Text)
	}
}

func TestHandleCommand_ErrorReturnsEphemeral(t *testing.T) {
	service := &mockPresenceService{
		handleCheckFn: func(ctx context.Context, req *presence.Request) (*presence.Result, error) {
			return nil, model.NewPersistenceFailedError()
		},
	}
	h := newTestWebhookHandler(t, service)

	w := postForm(h.HandleCommand, "/slack/commands", commandForm("/checkin"))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d (platform shows body to the user)", w.Result().StatusCode, http.StatusOK)
	}

	var resp ephemeralResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ResponseType != "ephemeral" {
		t.Errorf("response_type = %q, want ephemeral", resp.ResponseType)
	}
	if !strings.Contains(resp.Text, "保存に失敗") {
		t.Errorf("text = %q, want persistence failure message", resp.Text)
	}
}

func TestHandleCommand_UnknownCommand(t *testing.T) {
	service := &mockPresenceService{}
	h := newTestWebhookHandler(t, service)

	w := postForm(h.HandleCommand, "/slack/commands", commandForm("/lunch"))

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
	if len(service.requests) != 0 {
		t.Error("service should not be called for an unknown command")
	}
}

func TestHandleCommand_MissingUser(t *testing.T) {
	service := &mockPresenceService{}
	h := newTestWebhookHandler(t, service)

	form := commandForm("/checkin")
	form.Del("user_id")
	w := postForm(h.HandleCommand, "/slack/commands", form)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestHandleCommand_RateLimited(t *testing.T) {
	service := &mockPresenceService{}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		GeneralRate:     1,
		GeneralBurst:    1,
		CheckRate:       100,
		CheckBurst:      100,
		CleanupInterval: 1 * time.Minute,
	})
	t.Cleanup(limiter.Stop)
	h := NewWebhookHandler(service, limiter)

	// 1回目は通る
	postForm(h.HandleCommand, "/slack/commands", commandForm("/checkin"))

	// 2回目はレート制限のエフェメラル応答
	w := postForm(h.HandleCommand, "/slack/commands", commandForm("/checkin"))

	var resp ephemeralResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ResponseType != "ephemeral" {
		t.Errorf("response_type = %q, want ephemeral", resp.ResponseType)
	}
	if len(service.requests) != 1 {
		t.Errorf("service called %d times, want 1", len(service.requests))
	}
}

// --- ボタンインタラクションのテスト ---

func interactionForm(t *testing.T, callbackID string, blocks []roster.Block) url.Values {
	t.Helper()
	payload := map[string]any{
		"callback_id": callbackID,
		"user":        map[string]string{"id": "U123", "name": "alice"},
		"channel":     map[string]string{"id": "C123"},
		"message_ts":  "1700000000.000100",
		"original_message": map[string]any{
			"blocks": blocks,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	return url.Values{"payload": {string(encoded)}}
}

func TestHandleInteraction_CheckinButton(t *testing.T) {
	service := &mockPresenceService{}
	h := newTestWebhookHandler(t, service)

	existing := []roster.Block{
		roster.RenderEntry(&model.UserIdentity{DisplayName: "Bob"}, model.DirectionIn, "09:00"),
	}
	w := postForm(h.HandleInteraction, "/slack/interactions", interactionForm(t, "check_in_callback", existing))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if len(service.requests) != 1 {
		t.Fatalf("service called %d times, want 1", len(service.requests))
	}

	req := service.requests[0]
	if req.Trigger != presence.TriggerButton {
		t.Errorf("Trigger = %q, want button", req.Trigger)
	}
	if req.Direction != model.DirectionIn {
		t.Errorf("Direction = %q, want in", req.Direction)
	}
	if req.MessageRef != "1700000000.000100" {
		t.Errorf("MessageRef = %q, want originating message ts", req.MessageRef)
	}
	if len(req.ExistingBlocks) != 1 {
		t.Errorf("ExistingBlocks has %d blocks, want 1", len(req.ExistingBlocks))
	}
}

func TestHandleInteraction_CheckoutButton(t *testing.T) {
	service := &mockPresenceService{}
	h := newTestWebhookHandler(t, service)

	postForm(h.HandleInteraction, "/slack/interactions", interactionForm(t, "check_out_callback", nil))

	if len(service.requests) != 1 {
		t.Fatalf("service called %d times, want 1", len(service.requests))
	}
	if service.requests[0].Direction != model.DirectionOut {
		t.Errorf("Direction = %q, want out", service.requests[0].Direction)
	}
}

func TestHandleInteraction_MalformedPayload(t *testing.T) {
	service := &mockPresenceService{}
	h := newTestWebhookHandler(t, service)

	w := postForm(h.HandleInteraction, "/slack/interactions", url.Values{"payload": {"{not json"}})

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
	if len(service.requests) != 0 {
		t.Error("service should not be called for a malformed payload")
	}
}

func TestHandleInteraction_UnknownCallback(t *testing.T) {
	service := &mockPresenceService{}
	h := newTestWebhookHandler(t, service)

	w := postForm(h.HandleInteraction, "/slack/interactions", interactionForm(t, "unknown_callback", nil))

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

// サービス層のエラーでもプラットフォームにはACKを返すことを検証
// （本人向け通知はサービス層がエフェメラルで送信済み）
func TestHandleInteraction_ServiceErrorStillAcks(t *testing.T) {
	service := &mockPresenceService{
		handleCheckFn: func(ctx context.Context, req *presence.Request) (*presence.Result, error) {
			return nil, model.NewMessagingFailedError()
		},
	}
	h := newTestWebhookHandler(t, service)

	w := postForm(h.HandleInteraction, "/slack/interactions", interactionForm(t, "check_in_callback", nil))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}
