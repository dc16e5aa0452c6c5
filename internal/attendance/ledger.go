// Package attendance は日次の出退勤レジャーを提供する。
package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/rollcall/internal/localtime"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/repository"
)

// Ledger は出退勤イベントの記録と当日判定を提供するサービス層。
// チェックインとチェックアウトは独立したレジャーとして扱う:
// 同日に「in」を2回は拒否するが、「in」のあと「out」は許可する。
type Ledger struct {
	repo      repository.AttendanceRepository
	formatter *localtime.Formatter
	now       func() time.Time // テスト用に差し替え可能
}

// NewLedger はLedgerの新しいインスタンスを生成する。
func NewLedger(repo repository.AttendanceRepository, formatter *localtime.Formatter) *Ledger {
	return &Ledger{repo: repo, formatter: formatter, now: time.Now}
}

// NewLedgerWithClock は時計を差し替えたLedgerを生成する。テスト用。
func NewLedgerWithClock(repo repository.AttendanceRepository, formatter *localtime.Formatter, now func() time.Time) *Ledger {
	return &Ledger{repo: repo, formatter: formatter, now: now}
}

// HasActedToday は指定ユーザーが本日すでに同方向の操作を行ったかを返す。
// 日次ウィンドウは呼び出しのたびに再計算する。
// ストア読み取り失敗時はフェイルクローズド: 「未操作」とも「操作済み」とも
// 推測せず、PERSISTENCE_FAILEDを返す。
func (l *Ledger) HasActedToday(ctx context.Context, userID string, direction model.Direction) (bool, error) {
	start, end := localtime.Window(l.now())

	acted, err := l.repo.ExistsInWindow(ctx, direction, userID, start, end)
	if err != nil {
		slog.Error("failed to check attendance state",
			slog.String("user_id", userID),
			slog.String("direction", string(direction)),
			slog.String("error", err.Error()),
		)
		return false, model.NewPersistenceFailedError()
	}

	return acted, nil
}

// RecordEvent は新しい出退勤イベントを記録して返す。
// 冪等性チェックは行わない（呼び出し元がHasActedTodayを確認済みであること）。
// ストレージの一意制約 (user_id, day) が同時リクエストの正規のガードとなり、
// 制約違反はALREADY_ACTEDとして返る。
// 書き込み失敗時はイベントは記録されていない扱い（部分状態は存在しない）。
func (l *Ledger) RecordEvent(ctx context.Context, identity *model.UserIdentity, direction model.Direction) (*model.AttendanceEvent, error) {
	now := l.now().UTC()

	event := &model.AttendanceEvent{
		ID:              uuid.NewString(),
		UserID:          identity.ID,
		DisplayName:     identity.DisplayName,
		RecordedAt:      now,
		TzOffsetSeconds: identity.TzOffsetSeconds,
		Direction:       direction,
	}

	if err := l.repo.Insert(ctx, event, localtime.Day(now)); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			slog.Info("concurrent duplicate rejected by storage constraint",
				slog.String("user_id", identity.ID),
				slog.String("direction", string(direction)),
			)
			return nil, model.NewAlreadyActedError(direction)
		}
		slog.Error("failed to record attendance event",
			slog.String("user_id", identity.ID),
			slog.String("direction", string(direction)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPersistenceFailedError()
	}

	event.DisplayTime = l.formatter.Format(event.RecordedAt, event.TzOffsetSeconds)

	return event, nil
}

// ListToday は本日のイベントを記録時刻の昇順で返す。表示時刻も整形して埋める。
func (l *Ledger) ListToday(ctx context.Context, direction model.Direction) ([]*model.AttendanceEvent, error) {
	start, end := localtime.Window(l.now())

	events, err := l.repo.ListByWindow(ctx, direction, start, end)
	if err != nil {
		slog.Error("failed to list attendance events",
			slog.String("direction", string(direction)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPersistenceFailedError()
	}

	for _, event := range events {
		event.DisplayTime = l.formatter.Format(event.RecordedAt, event.TzOffsetSeconds)
	}

	return events, nil
}
