// Package model はドメインモデルを定義する。
package model

import "fmt"

// BotError は統一エラーフォーマットを表す。
// ユーザーに提示する原因カテゴリと対処方法を含む。
type BotError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: identity, persistence, messaging, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *BotError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeLookupFailed      = "LOOKUP_FAILED"
	ErrCodePersistenceFailed = "PERSISTENCE_FAILED"
	ErrCodeMessagingFailed   = "MESSAGING_FAILED"
	ErrCodeAlreadyActed      = "ALREADY_ACTED"
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// NewLookupFailedError はユーザー情報の取得失敗エラーを生成する。
func NewLookupFailedError() *BotError {
	return &BotError{
		Code:     ErrCodeLookupFailed,
		Message:  "ユーザー情報の取得に失敗しました。",
		Category: "identity",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPersistenceFailedError は出退勤レジャーへの読み書き失敗エラーを生成する。
// 読み取り失敗時もフェイルクローズドでこのエラーを返す（重複許可にも誤ブロックにも倒さない）。
func NewPersistenceFailedError() *BotError {
	return &BotError{
		Code:     ErrCodePersistenceFailed,
		Message:  "出退勤記録の保存に失敗しました。",
		Category: "persistence",
		Action:   "記録は保存されていません。しばらく待ってから再度お試しください。",
	}
}

// NewMessagingFailedError はメッセージ送信・更新の失敗エラーを生成する。
func NewMessagingFailedError() *BotError {
	return &BotError{
		Code:     ErrCodeMessagingFailed,
		Message:  "チャンネルへのメッセージ送信に失敗しました。",
		Category: "messaging",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAlreadyActedError は同日同方向の重複操作エラーを生成する。
func NewAlreadyActedError(direction Direction) *BotError {
	verb := "チェックイン"
	if direction == DirectionOut {
		verb = "チェックアウト"
	}
	return &BotError{
		Code:     ErrCodeAlreadyActed,
		Message:  fmt.Sprintf("本日はすでに%s済みです。", verb),
		Category: "validation",
		Action:   "1日に同じ操作は1回までです。",
	}
}

// NewInvalidPayloadError は不正なWebhookペイロードのエラーを生成する。
func NewInvalidPayloadError(reason string) *BotError {
	return &BotError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("リクエストの形式が不正です: %s", reason),
		Category: "validation",
		Action:   "アプリを再インストールするか、管理者に連絡してください。",
	}
}

// NewUnauthorizedError は署名検証失敗のエラーを生成する。
func NewUnauthorizedError() *BotError {
	return &BotError{
		Code:     ErrCodeUnauthorized,
		Message:  "リクエスト署名の検証に失敗しました。",
		Category: "system",
		Action:   "署名シークレットの設定を確認してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *BotError {
	return &BotError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
