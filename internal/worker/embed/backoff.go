// Package embed はアイテム画像の埋め込みベクトルを生成するバックグラウンド処理を提供する。
// スケジューラ、アトミックなクレーム、リトライ/バックオフ戦略を含む。
package embed

import "time"

// maxBackoffExponent はバックオフ指数の上限。
// これを超える試行回数でも遅延は base * factor^5 で頭打ちになる。
const maxBackoffExponent = 5

// RetryDelay は失敗回数に基づく次回リトライまでの遅延を計算する。
// base * factor^min(attempts-1, 5) を返す。
// attemptsが1未満の場合はbaseを返す。
func RetryDelay(attempts int, base time.Duration, factor float64) time.Duration {
	exponent := attempts - 1
	if exponent < 0 {
		exponent = 0
	}
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}

	delay := float64(base)
	for i := 0; i < exponent; i++ {
		delay *= factor
	}
	return time.Duration(delay)
}
