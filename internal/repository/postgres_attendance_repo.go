package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/rollcall/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// PostgresAttendanceRepo はPostgreSQLを使用した出退勤リポジトリ。
type PostgresAttendanceRepo struct {
	db *sql.DB
}

// NewPostgresAttendanceRepo はPostgresAttendanceRepoを生成する。
func NewPostgresAttendanceRepo(db *sql.DB) *PostgresAttendanceRepo {
	return &PostgresAttendanceRepo{db: db}
}

// tableFor はdirectionに対応するテーブル名を返す。
// チェックインとチェックアウトは構造的に独立した2テーブル。
func tableFor(direction model.Direction) string {
	if direction == model.DirectionOut {
		return "checkouts"
	}
	return "checkins"
}

// ExistsInWindow は指定ユーザーのイベントが [start, end) 内に存在するかを返す。
func (r *PostgresAttendanceRepo) ExistsInWindow(ctx context.Context, direction model.Direction, userID string, start, end time.Time) (bool, error) {
	query := fmt.Sprintf(
		`SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		)`, tableFor(direction))

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, userID, start, end).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query attendance events: %w", err)
	}

	return exists, nil
}

// Insert はイベントを追記する。同日同方向の重複はErrDuplicateEventを返す。
// 一意制約 (user_id, day) がTOCTOU競合の正規のガードとなる。
func (r *PostgresAttendanceRepo) Insert(ctx context.Context, event *model.AttendanceEvent, day string) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (id, user_id, display_name, recorded_at, tz_offset_seconds, day)
		 VALUES ($1, $2, $3, $4, $5, $6)`, tableFor(event.Direction))

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.UserID, event.DisplayName,
		event.RecordedAt, event.TzOffsetSeconds, day,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert attendance event: %w", err)
	}

	return nil
}

// ListByWindow は [start, end) 内のイベントをrecorded_at昇順で返す。
func (r *PostgresAttendanceRepo) ListByWindow(ctx context.Context, direction model.Direction, start, end time.Time) ([]*model.AttendanceEvent, error) {
	query := fmt.Sprintf(
		`SELECT id, user_id, display_name, recorded_at, tz_offset_seconds
		 FROM %s
		 WHERE recorded_at >= $1 AND recorded_at < $2
		 ORDER BY recorded_at ASC`, tableFor(direction))

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance events: %w", err)
	}
	defer rows.Close()

	var events []*model.AttendanceEvent
	for rows.Next() {
		event := &model.AttendanceEvent{Direction: direction}
		if err := rows.Scan(
			&event.ID, &event.UserID, &event.DisplayName,
			&event.RecordedAt, &event.TzOffsetSeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attendance event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance events: %w", err)
	}

	return events, nil
}
