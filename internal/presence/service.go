// Package presence は出退勤リクエストのオーケストレーションを提供する。
// ユーザー情報の解決、レジャーへの記録、ロスターメッセージの反映を
// 1リクエスト分のフローとしてまとめる。
package presence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/rollcall/internal/metrics"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/ratelimit"
	"github.com/hitoshi/rollcall/internal/roster"
	"github.com/hitoshi/rollcall/internal/slack"
)

// Trigger はリクエストの発火元を表す。
type Trigger string

const (
	// TriggerCommand はスラッシュコマンド経由のリクエストを示す。
	// 新しいロスターメッセージを投稿する。
	TriggerCommand Trigger = "command"
	// TriggerButton はロスターメッセージ上のボタン経由のリクエストを示す。
	// 発火元のメッセージに追記する。
	TriggerButton Trigger = "button"
)

// Request は1件の出退勤リクエストを表す。
type Request struct {
	UserID       string
	FallbackName string
	ChannelID    string
	Direction    model.Direction
	Trigger      Trigger

	// ボタン経由の場合のみ: 発火元メッセージの参照と、ペイロードに載っていた
	// クリック時点の内容スナップショット。追記は取得し直した最新内容に対して行い、
	// スナップショットは取得に失敗したときのフォールバックにのみ使う。
	MessageRef     string
	ExistingBlocks []roster.Block
}

// Result は出退勤リクエストの処理結果を表す。
type Result struct {
	AlreadyActed bool
	Notice       string // 重複時の本人向け通知文（コマンド応答用）
	Event        *model.AttendanceEvent
	MessageRef   string // 投稿・更新したロスターメッセージの参照
}

// IdentityResolver はユーザー情報の解決インターフェース。identity.Resolverが実装する。
type IdentityResolver interface {
	Resolve(ctx context.Context, userID, fallbackName string) (*model.UserIdentity, error)
}

// AttendanceLedger は出退勤レジャーのインターフェース。attendance.Ledgerが実装する。
type AttendanceLedger interface {
	HasActedToday(ctx context.Context, userID string, direction model.Direction) (bool, error)
	RecordEvent(ctx context.Context, identity *model.UserIdentity, direction model.Direction) (*model.AttendanceEvent, error)
}

// Messenger はチャンネルへのメッセージ送信・取得インターフェース。slack.Clientが実装する。
type Messenger interface {
	PostMessage(ctx context.Context, channelID string, blocks []roster.Block, attachments []slack.Attachment) (string, error)
	UpdateMessage(ctx context.Context, channelID, messageRef string, blocks []roster.Block, attachments []slack.Attachment) error
	FetchMessage(ctx context.Context, channelID, messageRef string) ([]roster.Block, error)
	PostEphemeral(ctx context.Context, channelID, userID, text string) error
}

// Service は出退勤リクエストのオーケストレーター。
type Service struct {
	resolver  IdentityResolver
	ledger    AttendanceLedger
	messenger Messenger
	locker    *roster.MessageLocker
	limiter   *ratelimit.Limiter
	collector metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	resolver IdentityResolver,
	ledger AttendanceLedger,
	messenger Messenger,
	locker *roster.MessageLocker,
	limiter *ratelimit.Limiter,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		resolver:  resolver,
		ledger:    ledger,
		messenger: messenger,
		locker:    locker,
		limiter:   limiter,
		collector: collector,
	}
}

// HandleCheck は出退勤リクエストを処理する。
// 冪等性チェック → 記録 → ロスターメッセージ反映の順で進み、
// 記録失敗を成功と偽ることはない（自動リトライもしない）。
// 重複・エラー時は本人にのみ見える通知を送る。
func (s *Service) HandleCheck(ctx context.Context, req *Request) (*Result, error) {
	if !req.Direction.Valid() {
		return nil, model.NewInvalidPayloadError("unknown direction")
	}

	if !s.limiter.AllowCheck(req.UserID) {
		slog.Warn("check rate limit exceeded", slog.String("user_id", req.UserID))
		botErr := model.NewRateLimitedError()
		s.notify(ctx, req, botErr.Message)
		return nil, botErr
	}

	identity, err := s.resolver.Resolve(ctx, req.UserID, req.FallbackName)
	if err != nil {
		s.collector.RecordCheckFailure("identity")
		s.notifyError(ctx, req, err)
		return nil, err
	}

	acted, err := s.ledger.HasActedToday(ctx, req.UserID, req.Direction)
	if err != nil {
		s.collector.RecordCheckFailure("persistence")
		s.notifyError(ctx, req, err)
		return nil, err
	}
	if acted {
		s.collector.RecordCheckDuplicate(string(req.Direction))
		notice := duplicateNotice(req.Direction)
		s.notify(ctx, req, notice)
		return &Result{AlreadyActed: true, Notice: notice}, nil
	}

	event, err := s.ledger.RecordEvent(ctx, identity, req.Direction)
	if err != nil {
		var botErr *model.BotError
		if errors.As(err, &botErr) && botErr.Code == model.ErrCodeAlreadyActed {
			// 同時リクエストの敗者側。ストレージの一意制約が検出した
			s.collector.RecordCheckDuplicate(string(req.Direction))
			notice := duplicateNotice(req.Direction)
			s.notify(ctx, req, notice)
			return &Result{AlreadyActed: true, Notice: notice}, nil
		}
		s.collector.RecordCheckFailure("persistence")
		s.notifyError(ctx, req, err)
		return nil, err
	}

	entry := roster.RenderEntry(identity, req.Direction, event.DisplayTime)

	messageRef, err := s.reconcileRoster(ctx, req, entry)
	if err != nil {
		// イベントは記録済み。メッセージ反映の失敗は別系統のエラーとして返す
		s.collector.RecordCheckFailure("messaging")
		s.notifyError(ctx, req, err)
		return nil, err
	}

	s.collector.RecordCheckSuccess(string(req.Direction))
	s.collector.RecordRosterAppend()

	return &Result{Event: event, MessageRef: messageRef}, nil
}

// reconcileRoster はイベントをロスターメッセージに反映し、メッセージ参照を返す。
// コマンド経由は新規投稿、ボタン経由は発火元メッセージへの追記更新。
// 同一メッセージへの更新はロックで直列化し、追記の取りこぼしを防ぐ。
func (s *Service) reconcileRoster(ctx context.Context, req *Request, entry roster.Block) (string, error) {
	start := time.Now()
	defer func() {
		s.collector.RecordChatAPILatency(time.Since(start))
	}()

	if req.Trigger == TriggerButton {
		unlock := s.locker.Lock(req.ChannelID, req.MessageRef)
		defer unlock()

		// ペイロードのスナップショットは同時クリックで古くなる。
		// ロック取得後に最新の内容を取り直し、そこへ追記する。
		current, err := s.messenger.FetchMessage(ctx, req.ChannelID, req.MessageRef)
		if err != nil {
			slog.Warn("failed to fetch current roster message, using payload snapshot",
				slog.String("channel_id", req.ChannelID),
				slog.String("message_ref", req.MessageRef),
				slog.String("error", err.Error()),
			)
			current = req.ExistingBlocks
		}

		blocks := roster.AppendEntry(current, entry)
		if err := s.messenger.UpdateMessage(ctx, req.ChannelID, req.MessageRef, blocks, ActionAttachments(req.Direction)); err != nil {
			slog.Error("failed to update roster message",
				slog.String("channel_id", req.ChannelID),
				slog.String("message_ref", req.MessageRef),
				slog.String("error", err.Error()),
			)
			return "", model.NewMessagingFailedError()
		}
		return req.MessageRef, nil
	}

	blocks := roster.AppendEntry(nil, entry)
	ts, err := s.messenger.PostMessage(ctx, req.ChannelID, blocks, ActionAttachments(req.Direction))
	if err != nil {
		slog.Error("failed to post roster message",
			slog.String("channel_id", req.ChannelID),
			slog.String("error", err.Error()),
		)
		return "", model.NewMessagingFailedError()
	}
	return ts, nil
}

// notify は本人にのみ見える通知を送る。通知自体の失敗はログに留める。
// コマンド経由のリクエストはハンドラーがエフェメラル応答ボディを返すため送らない。
func (s *Service) notify(ctx context.Context, req *Request, text string) {
	if req.Trigger != TriggerButton {
		return
	}
	if err := s.messenger.PostEphemeral(ctx, req.ChannelID, req.UserID, text); err != nil {
		slog.Warn("failed to post ephemeral notice",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// notifyError はBotErrorのメッセージを本人向け通知として送る。
func (s *Service) notifyError(ctx context.Context, req *Request, err error) {
	var botErr *model.BotError
	if errors.As(err, &botErr) {
		s.notify(ctx, req, botErr.Message+" "+botErr.Action)
		return
	}
	s.notify(ctx, req, "処理に失敗しました。しばらく待ってから再度お試しください。")
}

// duplicateNotice は同日重複時の本人向け通知文を返す。
func duplicateNotice(direction model.Direction) string {
	if direction == model.DirectionOut {
		return "You are already checked out today :(."
	}
	return "You are already checked in today :(."
}

// ActionAttachments はロスターメッセージに付けるボタンを返す。
// メッセージには同じ方向のボタンのみが付き、コールバックIDで方向を区別する。
func ActionAttachments(direction model.Direction) []slack.Attachment {
	if direction == model.DirectionOut {
		return []slack.Attachment{
			{
				Text:       "Who else is out?",
				Fallback:   "You are unable to check out",
				CallbackID: "check_out_callback",
				Color:      "#3AA3E3",
				Actions: []slack.AttachmentAction{
					{Name: "check_out", Text: "Check Out", Type: "button", Value: "check_out"},
				},
			},
		}
	}
	return []slack.Attachment{
		{
			Text:       "Who else is here?",
			Fallback:   "You are unable to check in",
			CallbackID: "check_in_callback",
			Color:      "#3AA3E3",
			Actions: []slack.AttachmentAction{
				{Name: "check_in", Text: "Check In", Type: "button", Value: "check_in"},
			},
		},
	}
}
