// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/rollcall/internal/model"
)

// ErrDuplicateEvent はストレージ層の一意制約（user_id, day）違反を表す。
// 同時リクエストのTOCTOU競合はこのエラーで検出する。
var ErrDuplicateEvent = errors.New("attendance event already recorded for this user and day")

// AttendanceRepository は出退勤イベントの永続化インターフェース。
// チェックインとチェックアウトは独立したテーブルとして扱い、directionで切り替える。
type AttendanceRepository interface {
	// ExistsInWindow は指定ユーザーのイベントが [start, end) 内に存在するかを返す。
	ExistsInWindow(ctx context.Context, direction model.Direction, userID string, start, end time.Time) (bool, error)

	// Insert はイベントを追記する。dayは一意制約用のUTC暦日キー（YYYY-MM-DD）。
	// 同日同方向の重複はErrDuplicateEventを返す。
	Insert(ctx context.Context, event *model.AttendanceEvent, day string) error

	// ListByWindow は [start, end) 内のイベントをrecorded_at昇順で返す。
	ListByWindow(ctx context.Context, direction model.Direction, start, end time.Time) ([]*model.AttendanceEvent, error)
}

// InstallationRepository はワークスペースインストール情報の永続化インターフェース。
type InstallationRepository interface {
	// Upsert はインストール情報を保存する。同一team_idの再インストールは上書きする。
	Upsert(ctx context.Context, inst *model.Installation) error

	// FindByTeamID は指定チームのインストール情報を取得する。見つからない場合はnilを返す。
	FindByTeamID(ctx context.Context, teamID string) (*model.Installation, error)
}
