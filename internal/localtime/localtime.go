// Package localtime は出退勤イベントの時刻整形と日次ウィンドウ計算を提供する。
package localtime

import (
	"fmt"
	"time"
)

// Formatter はUTCの記録時刻を基準タイムゾーンの表示時刻に整形する。
// 記録時のユーザーのUTCオフセットが基準タイムゾーンの現在オフセットと異なる場合、
// 出張中などのユーザー向けに括弧書きの注記を付与する。
type Formatter struct {
	zone *time.Location
	now  func() time.Time // テスト用に差し替え可能
}

// NewFormatter は指定された基準タイムゾーンのFormatterを生成する。
func NewFormatter(zone *time.Location) *Formatter {
	return &Formatter{zone: zone, now: time.Now}
}

// NewFormatterWithClock は時計を差し替えたFormatterを生成する。テスト用。
func NewFormatterWithClock(zone *time.Location, now func() time.Time) *Formatter {
	return &Formatter{zone: zone, now: now}
}

// Format はUTCの瞬間を基準タイムゾーンの "HH:MM"（24時間、ゼロ埋め）で整形する。
// offsetSecondsが基準タイムゾーンの現在オフセットと分単位で異なる場合、
// UTCの壁時計時刻に符号付き時間オフセットを添えた括弧書きを付与する。
// 例: "14:32 (13:32 UTC-1)"。オフセットが一致する場合は括弧書きなし。
func (f *Formatter) Format(tsUTC time.Time, offsetSeconds int) string {
	canonical := tsUTC.In(f.zone).Format("15:04")

	if offsetSeconds/60 == f.CurrentOffsetSeconds()/60 {
		return canonical
	}

	return fmt.Sprintf("%s (%s UTC%s)", canonical, tsUTC.UTC().Format("15:04"), offsetLabel(offsetSeconds))
}

// offsetLabel は秒単位のUTCオフセットを符号付きの時表記にする。
// インドやニューファンドランドのような30分単位のゾーンは "+5:30" の形で分を残す。
func offsetLabel(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	hours := offsetSeconds / 3600
	minutes := offsetSeconds % 3600 / 60
	if minutes == 0 {
		return fmt.Sprintf("%s%d", sign, hours)
	}
	return fmt.Sprintf("%s%d:%02d", sign, hours, minutes)
}

// CurrentOffsetSeconds は基準タイムゾーンの現在のUTCオフセットを秒で返す。
// DSTを考慮するため、固定値ではなく現在時刻から都度計算する。
func (f *Formatter) CurrentOffsetSeconds() int {
	_, offset := f.now().In(f.zone).Zone()
	return offset
}

// Window は「今日」を表す半開区間 [startOfDay, startOfNextDay) をUTCで返す。
// レジャーへの問い合わせ・書き込みのたびに呼び出し時点で再計算すること
// （日付境界をまたぐキャッシュは不可）。
func Window(now time.Time) (start, end time.Time) {
	u := now.UTC()
	start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Day はストレージ側の一意制約に使うUTCの暦日キー（YYYY-MM-DD）を返す。
func Day(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
