package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/rollcall/internal/localtime"
	"github.com/hitoshi/rollcall/internal/model"
	"github.com/hitoshi/rollcall/internal/repository"
)

// --- モック ---

type mockAttendanceRepo struct {
	existsInWindowFn func(ctx context.Context, direction model.Direction, userID string, start, end time.Time) (bool, error)
	insertFn         func(ctx context.Context, event *model.AttendanceEvent, day string) error
	listByWindowFn   func(ctx context.Context, direction model.Direction, start, end time.Time) ([]*model.AttendanceEvent, error)
}

func (m *mockAttendanceRepo) ExistsInWindow(ctx context.Context, direction model.Direction, userID string, start, end time.Time) (bool, error) {
	if m.existsInWindowFn != nil {
		return m.existsInWindowFn(ctx, direction, userID, start, end)
	}
	return false, nil
}

func (m *mockAttendanceRepo) Insert(ctx context.Context, event *model.AttendanceEvent, day string) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, event, day)
	}
	return nil
}

func (m *mockAttendanceRepo) ListByWindow(ctx context.Context, direction model.Direction, start, end time.Time) ([]*model.AttendanceEvent, error) {
	if m.listByWindowFn != nil {
		return m.listByWindowFn(ctx, direction, start, end)
	}
	return nil, nil
}

var _ repository.AttendanceRepository = (*mockAttendanceRepo)(nil)

func newTestLedger(t *testing.T, repo repository.AttendanceRepository, now time.Time) *Ledger {
	t.Helper()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	clock := func() time.Time { return now }
	formatter := localtime.NewFormatterWithClock(berlin, clock)
	return NewLedgerWithClock(repo, formatter, clock)
}

// --- テスト ---

func TestHasActedToday_UsesCurrentWindow(t *testing.T) {
	now := time.Date(2024, 1, 15, 13, 32, 0, 0, time.UTC)
	var gotStart, gotEnd time.Time

	repo := &mockAttendanceRepo{
		existsInWindowFn: func(ctx context.Context, direction model.Direction, userID string, start, end time.Time) (bool, error) {
			gotStart, gotEnd = start, end
			return true, nil
		},
	}

	acted, err := newTestLedger(t, repo, now).HasActedToday(context.Background(), "U123", model.DirectionIn)
	if err != nil {
		t.Fatalf("HasActedToday returned error: %v", err)
	}
	if !acted {
		t.Error("acted = false, want true")
	}

	wantStart := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	if !gotStart.Equal(wantStart) || !gotEnd.Equal(wantEnd) {
		t.Errorf("window = [%v, %v), want [%v, %v)", gotStart, gotEnd, wantStart, wantEnd)
	}
}

// 読み取り失敗時はフェイルクローズドでPERSISTENCE_FAILEDになることを検証
func TestHasActedToday_FailsClosed(t *testing.T) {
	repo := &mockAttendanceRepo{
		existsInWindowFn: func(ctx context.Context, direction model.Direction, userID string, start, end time.Time) (bool, error) {
			return false, errors.New("connection refused")
		},
	}

	_, err := newTestLedger(t, repo, time.Now()).HasActedToday(context.Background(), "U123", model.DirectionIn)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected *model.BotError, got %T", err)
	}
	if botErr.Code != model.ErrCodePersistenceFailed {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodePersistenceFailed)
	}
}

func TestRecordEvent_Success(t *testing.T) {
	now := time.Date(2024, 1, 15, 13, 32, 0, 0, time.UTC)
	var inserted *model.AttendanceEvent
	var insertedDay string

	repo := &mockAttendanceRepo{
		insertFn: func(ctx context.Context, event *model.AttendanceEvent, day string) error {
			inserted = event
			insertedDay = day
			return nil
		},
	}

	identity := &model.UserIdentity{
		ID:              "U123",
		DisplayName:     "Alice",
		TzOffsetSeconds: -3600,
	}

	event, err := newTestLedger(t, repo, now).RecordEvent(context.Background(), identity, model.DirectionIn)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}

	if event.ID == "" {
		t.Error("ID is empty, want generated UUID")
	}
	if !event.RecordedAt.Equal(now) {
		t.Errorf("RecordedAt = %v, want %v", event.RecordedAt, now)
	}
	if event.Direction != model.DirectionIn {
		t.Errorf("Direction = %q, want %q", event.Direction, model.DirectionIn)
	}
	if insertedDay != "2024-01-15" {
		t.Errorf("day = %q, want 2024-01-15", insertedDay)
	}
	if inserted != event {
		t.Error("inserted event should be the returned event")
	}
	// ユーザーオフセット-1時間、基準（ベルリン冬時間）は+1時間なので注釈付き
	if event.DisplayTime != "14:32 (13:32 UTC-1)" {
		t.Errorf("DisplayTime = %q, want %q", event.DisplayTime, "14:32 (13:32 UTC-1)")
	}
}

// 方向に応じたレジャーに記録されることを検証（チェックアウトは「out」のまま）
func TestRecordEvent_RecordsRequestedDirection(t *testing.T) {
	repo := &mockAttendanceRepo{}

	identity := &model.UserIdentity{ID: "U123", DisplayName: "Alice", TzOffsetSeconds: 3600}
	now := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)

	event, err := newTestLedger(t, repo, now).RecordEvent(context.Background(), identity, model.DirectionOut)
	if err != nil {
		t.Fatalf("RecordEvent returned error: %v", err)
	}
	if event.Direction != model.DirectionOut {
		t.Errorf("Direction = %q, want %q", event.Direction, model.DirectionOut)
	}
}

// 一意制約違反はALREADY_ACTEDに変換されることを検証（同時リクエストの敗者側）
func TestRecordEvent_DuplicateBecomesAlreadyActed(t *testing.T) {
	repo := &mockAttendanceRepo{
		insertFn: func(ctx context.Context, event *model.AttendanceEvent, day string) error {
			return repository.ErrDuplicateEvent
		},
	}

	identity := &model.UserIdentity{ID: "U123", DisplayName: "Alice"}

	_, err := newTestLedger(t, repo, time.Now()).RecordEvent(context.Background(), identity, model.DirectionIn)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected *model.BotError, got %T", err)
	}
	if botErr.Code != model.ErrCodeAlreadyActed {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodeAlreadyActed)
	}
}

func TestRecordEvent_InsertFailure(t *testing.T) {
	repo := &mockAttendanceRepo{
		insertFn: func(ctx context.Context, event *model.AttendanceEvent, day string) error {
			return errors.New("connection refused")
		},
	}

	identity := &model.UserIdentity{ID: "U123", DisplayName: "Alice"}

	_, err := newTestLedger(t, repo, time.Now()).RecordEvent(context.Background(), identity, model.DirectionIn)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var botErr *model.BotError
	if !errors.As(err, &botErr) {
		t.Fatalf("expected *model.BotError, got %T", err)
	}
	if botErr.Code != model.ErrCodePersistenceFailed {
		t.Errorf("Code = %q, want %q", botErr.Code, model.ErrCodePersistenceFailed)
	}
}

func TestListToday_FillsDisplayTime(t *testing.T) {
	now := time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)

	repo := &mockAttendanceRepo{
		listByWindowFn: func(ctx context.Context, direction model.Direction, start, end time.Time) ([]*model.AttendanceEvent, error) {
			return []*model.AttendanceEvent{
				{
					UserID:          "U1",
					DisplayName:     "Alice",
					RecordedAt:      time.Date(2024, 1, 15, 13, 32, 0, 0, time.UTC),
					TzOffsetSeconds: 3600,
					Direction:       model.DirectionIn,
				},
			}, nil
		},
	}

	events, err := newTestLedger(t, repo, now).ListToday(context.Background(), model.DirectionIn)
	if err != nil {
		t.Fatalf("ListToday returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	// 基準タイムゾーンと同一オフセットなので注釈なし
	if events[0].DisplayTime != "14:32" {
		t.Errorf("DisplayTime = %q, want %q", events[0].DisplayTime, "14:32")
	}
}

func TestListToday_Failure(t *testing.T) {
	repo := &mockAttendanceRepo{
		listByWindowFn: func(ctx context.Context, direction model.Direction, start, end time.Time) ([]*model.AttendanceEvent, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, err := newTestLedger(t, repo, time.Now()).ListToday(context.Background(), model.DirectionIn)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
