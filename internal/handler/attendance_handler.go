package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/rollcall/internal/middleware"
	"github.com/hitoshi/rollcall/internal/model"
)

// AttendanceListerInterface は出退勤一覧取得のインターフェース。attendance.Ledgerが実装する。
type AttendanceListerInterface interface {
	// ListToday は本日のイベントを記録時刻の昇順で返す。
	ListToday(ctx context.Context, direction model.Direction) ([]*model.AttendanceEvent, error)
}

// AttendanceHandler は出退勤一覧のHTTPハンドラー。
type AttendanceHandler struct {
	lister AttendanceListerInterface
}

// NewAttendanceHandler はAttendanceHandlerを生成する。
func NewAttendanceHandler(lister AttendanceListerInterface) *AttendanceHandler {
	return &AttendanceHandler{lister: lister}
}

// attendanceEventResponse は出退勤イベント1件分のレスポンス。
type attendanceEventResponse struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	DisplayName     string    `json:"display_name"`
	RecordedAt      time.Time `json:"recorded_at"`
	TzOffsetSeconds int       `json:"tz_offset_seconds"`
	DisplayTime     string    `json:"display_time"`
}

// attendanceListResponse は本日の出退勤一覧のレスポンス。
type attendanceListResponse struct {
	Direction string                    `json:"direction"`
	Events    []attendanceEventResponse `json:"events"`
}

// ListToday は本日の出退勤イベント一覧を取得する。
// GET /api/attendance/today?direction=in|out
func (h *AttendanceHandler) ListToday(w http.ResponseWriter, r *http.Request) {
	direction := model.Direction(r.URL.Query().Get("direction"))
	if direction == "" {
		direction = model.DirectionIn
	}
	if !direction.Valid() {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPayloadError("direction must be in or out"))
		return
	}

	events, err := h.lister.ListToday(r.Context(), direction)
	if err != nil {
		var botErr *model.BotError
		if errors.As(err, &botErr) {
			middleware.WriteErrorResponse(w, http.StatusInternalServerError, botErr)
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}

	resp := attendanceListResponse{
		Direction: string(direction),
		Events:    make([]attendanceEventResponse, 0, len(events)),
	}
	for _, event := range events {
		resp.Events = append(resp.Events, attendanceEventResponse{
			ID:              event.ID,
			UserID:          event.UserID,
			DisplayName:     event.DisplayName,
			RecordedAt:      event.RecordedAt,
			TzOffsetSeconds: event.TzOffsetSeconds,
			DisplayTime:     event.DisplayTime,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
