// Package roster はロスターメッセージの組み立てとマージを提供する。
// メッセージ本体の正本は外部のメッセージングチャンネル側にあり、
// 本パッケージは1リクエスト分のマージ処理のみを担う。
package roster

import (
	"fmt"

	"github.com/hitoshi/rollcall/internal/model"
)

// Element はコンテキストブロック内の要素（画像またはmrkdwnテキスト）を表す。
type Element struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url,omitempty"`
	AltText  string `json:"alt_text,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Block はロスターメッセージの1行分の表示ブロックを表す。
type Block struct {
	Type     string    `json:"type"`
	Elements []Element `json:"elements,omitempty"`
}

// RenderEntry は出退勤イベント1件分の表示ブロックを生成する。
// アバター画像と「*名前* checked in at 14:32 (13:32 UTC-1)」形式のテキストを含む。
func RenderEntry(identity *model.UserIdentity, direction model.Direction, displayTime string) Block {
	verb := "checked in"
	if direction == model.DirectionOut {
		verb = "checked out"
	}

	return Block{
		Type: "context",
		Elements: []Element{
			{
				Type:     "image",
				ImageURL: identity.ImageURL,
				AltText:  "user avatar",
			},
			{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s* %s at %s", identity.DisplayName, verb, displayTime),
			},
		},
	}
}

// AppendEntry は既存のロスターメッセージ内容に新しいエントリを追記した内容を返す。
// 純粋関数: 既存ブロックを削除・並べ替えせず、末尾に追記するのみ。
// 既存内容が空（その日の最初のイベント）の場合は1エントリのみの内容を返す。
// 重複排除は行わない（冪等性チェックは呼び出し元の責務）。
func AppendEntry(existing []Block, entry Block) []Block {
	updated := make([]Block, 0, len(existing)+1)
	updated = append(updated, existing...)
	updated = append(updated, entry)
	return updated
}
