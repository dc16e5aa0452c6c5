// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rollcall/internal/middleware"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/presence"
	"github.com/hitoshi/rollcall/internal/ratelimit"
	"github.com/hitoshi/rollcall/internal/roster"
)

// PresenceServiceInterface はWebhookハンドラーが必要とするサービスインターフェース。
type PresenceServiceInterface interface {
	// HandleCheck は1件の出退勤リクエストを処理する。
	HandleCheck(ctx context.Context, req *presence.Request) (*presence.Result, error)
}

// WebhookHandler はチャットプラットフォームからのWebhookのHTTPハンドラー。
// スラッシュコマンドとボタンインタラクションの2系統を受ける。
type WebhookHandler struct {
	service PresenceServiceInterface
	limiter *ratelimit.Limiter
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(service PresenceServiceInterface, limiter *ratelimit.Limiter) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		limiter: limiter,
	}
}

// ephemeralResponse は本人にのみ見えるコマンド応答ボディ。
type ephemeralResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// writeEphemeral は本人にのみ見えるコマンド応答を書き込む。
// プラットフォームはHTTP 200の応答ボディを発信者への通知として扱う。
func writeEphemeral(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ephemeralResponse{
		ResponseType: "ephemeral",
		Text:         text,
	})
}

// commandDirections はスラッシュコマンド名から方向への対応表。
var commandDirections = map[string]model.Direction{
	"/checkin":  model.DirectionIn,
	"/checkout": model.DirectionOut,
}

// HandleCommand はスラッシュコマンドを処理する。
// POST /slack/commands (application/x-www-form-urlencoded)
// 重複・エラーはエフェメラル応答ボディで本人に通知する。
func (h *WebhookHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPayloadError("malformed form body"))
		return
	}

	command := r.PostForm.Get("command")
	userID := r.PostForm.Get("user_id")
	userName := r.PostForm.Get("user_name")
	channelID := r.PostForm.Get("channel_id")

	direction, ok := commandDirections[command]
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPayloadError("unknown command"))
		return
	}
	if userID == "" || channelID == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPayloadError("missing user or channel"))
		return
	}

	if !h.limiter.AllowGeneral(userID) {
		slog.Warn("webhook rate limit exceeded", slog.String("user_id", userID))
		writeEphemeral(w, model.NewRateLimitedError().Message)
		return
	}

	result, err := h.service.HandleCheck(r.Context(), &presence.Request{
		UserID:       userID,
		FallbackName: userName,
		ChannelID:    channelID,
		Direction:    direction,
		Trigger:      presence.TriggerCommand,
	})
	if err != nil {
		var botErr *model.BotError
		if errors.As(err, &botErr) {
			writeEphemeral(w, botErr.Message+" "+botErr.Action)
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}

	if result.AlreadyActed {
		writeEphemeral(w, result.Notice)
		return
	}

	// ロスターメッセージは投稿済み。応答ボディは不要
	w.WriteHeader(http.StatusOK)
}

// interactionPayload はボタンインタラクションのペイロード。
type interactionPayload struct {
	CallbackID string `json:"callback_id"`
	User       struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	MessageTS       string `json:"message_ts"`
	OriginalMessage struct {
		Blocks []roster.Block `json:"blocks"`
	} `json:"original_message"`
}

// callbackDirections はコールバックIDから方向への対応表。
var callbackDirections = map[string]model.Direction{
	"check_in_callback":  model.DirectionIn,
	"check_out_callback": model.DirectionOut,
}

// HandleInteraction はロスターメッセージ上のボタン操作を処理する。
// POST /slack/interactions (payloadフィールドにJSON)
// 発火元メッセージのブロックに追記する。本人向け通知はサービス層が
// エフェメラルメッセージで送るため、応答は常にACKのみ。
func (h *WebhookHandler) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPayloadError("malformed form body"))
		return
	}

	var payload interactionPayload
	if err := json.Unmarshal([]byte(r.PostForm.Get("payload")), &payload); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPayloadError("malformed interaction payload"))
		return
	}

	direction, ok := callbackDirections[payload.CallbackID]
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPayloadError("unknown callback"))
		return
	}
	if payload.User.ID == "" || payload.Channel.ID == "" || payload.MessageTS == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPayloadError("missing user, channel, or message reference"))
		return
	}

	if !h.limiter.AllowGeneral(payload.User.ID) {
		slog.Warn("webhook rate limit exceeded", slog.String("user_id", payload.User.ID))
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := h.service.HandleCheck(r.Context(), &presence.Request{
		UserID:         payload.User.ID,
		FallbackName:   payload.User.Name,
		ChannelID:      payload.Channel.ID,
		Direction:      direction,
		Trigger:        presence.TriggerButton,
		MessageRef:     payload.MessageTS,
		ExistingBlocks: payload.OriginalMessage.Blocks,
	}); err != nil {
		// 本人への通知はサービス層が送信済み。ここではACKを返すのみ
		slog.Error("interaction handling failed",
			slog.String("user_id", payload.User.ID),
			slog.String("callback_id", payload.CallbackID),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusOK)
}
