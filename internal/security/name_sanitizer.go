package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService は表示名のサニタイズ機能のインターフェースを定義する。
// チャットプラットフォームから取得した表示名はメッセージのマークアップに
// 埋め込まれるため、タグ類を全て除去してから使用する。
type NameSanitizerService interface {
	// Sanitize は表示名から全てのHTMLタグを除去し、前後の空白を取り除く。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawName string) string
}

// nameSanitizer はNameSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持し、スレッドセーフに動作する。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerServiceの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名から全てのHTMLタグを除去し、前後の空白を取り除く。
func (s *nameSanitizer) Sanitize(rawName string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawName))
}
