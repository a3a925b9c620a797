// Package quota は月間クォータの期間計算と消費数カウントを提供する。
package quota

import "time"

// PeriodBounds は指定時刻を含むクォータ期間（UTC暦月）の境界を返す。
// 戻り値は半開区間 [start, end) であり、endは翌月1日0時(UTC)。
// 月末最終日の23:59:59(UTC)は当月、翌月1日0:00:00(UTC)は翌月に属する。
// ローカルタイムゾーンは使用しない。どの地域のユーザーも同一の境界で
// リセットされ、サーバーの地域設定にも依存しない。
func PeriodBounds(now time.Time) (start, end time.Time) {
	utc := now.UTC()
	start = time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
