// Package model はドメインモデルを定義する。
package model

import "time"

// Direction は出退勤イベントの方向を表す。
type Direction string

const (
	// DirectionIn はチェックイン（出勤）を示す。
	DirectionIn Direction = "in"
	// DirectionOut はチェックアウト（退勤）を示す。
	DirectionOut Direction = "out"
)

// Valid は方向が定義済みの値かどうかを返す。
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// AttendanceEvent は1件の出退勤イベントを表す。
// レジャーへの書き込み成功時に1回だけ生成され、以降は不変。削除されない。
type AttendanceEvent struct {
	ID              string
	UserID          string
	DisplayName     string
	RecordedAt      time.Time // UTC
	TzOffsetSeconds int       // 記録時点のユーザーのUTCオフセット（秒、東向きが正）
	Direction       Direction
	DisplayTime     string // 整形済みのローカル時刻表示（例: "14:32 (13:32 UTC-1)"）
}

// UserIdentity はチャットプラットフォームから解決したユーザー情報を表す。
// 表示名やアバターは変わりうるため、リクエストごとに毎回解決しキャッシュしない。
type UserIdentity struct {
	ID              string
	DisplayName     string
	ImageURL        string
	TzOffsetSeconds int
}

// Installation はワークスペースへのアプリインストール情報を表す。
type Installation struct {
	ID          string
	TeamID      string
	TeamName    string
	AccessToken string
	BotUserID   string
	InstalledAt time.Time
}
