// Package ai は外部推論APIとの連携機能を提供する。
// レート制御、リトライ戦略、画像説明と埋め込みベクトルの生成を含む。
package ai

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrCooldown はクールダウン中のためAPI呼び出しをスキップしたことを示す。
// 429レスポンスを受けた後、クールダウン期間が明けるまで
// すべての呼び出しはこのエラーで即座に失敗する。
var ErrCooldown = errors.New("inference API is in cooldown")

// Pacer は推論API呼び出しのペース制御インターフェース。
// レート制限とクールダウンの両方を管理する。
// テスト時にモックに差し替え可能。
type Pacer interface {
	// Wait は次のAPI呼び出しが許可されるまでブロックする。
	// クールダウン中の場合は待たずにErrCooldownを返す。
	// コンテキストがキャンセルされた場合はそのエラーを返す。
	Wait(ctx context.Context) error

	// ArmCooldown はクールダウンを発動する。
	// 以降のWait呼び出しは期間が明けるまでErrCooldownを返す。
	// 429レスポンスを受けた時に呼び出される。
	ArmCooldown()

	// CooldownRemaining はクールダウンの残り時間を返す。
	// クールダウン中でない場合は0を返す。
	CooldownRemaining() time.Duration
}

// ratePacer はPacerの実装。
// golang.org/x/time/rateのトークンバケットで分間レートを制御し、
// ミューテックスで保護されたデッドラインでクールダウンを管理する。
// 複数のgoroutineから安全に呼び出せる。
type ratePacer struct {
	limiter  *rate.Limiter
	cooldown time.Duration

	mu            sync.Mutex
	cooldownUntil time.Time

	now func() time.Time // テスト用に差し替え可能
}

// NewRatePacer はratePacerの新しいインスタンスを生成する。
// ratePerMinが0以下の場合はデフォルト値30を使用する。
func NewRatePacer(ratePerMin int, cooldown time.Duration) *ratePacer {
	if ratePerMin <= 0 {
		ratePerMin = 30
	}
	return &ratePacer{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), 1),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Wait は次のAPI呼び出しが許可されるまでブロックする。
// クールダウンの判定はレート制限の待機より先に行うため、
// クールダウン中はトークンを消費せず即座に失敗する。
func (p *ratePacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	inCooldown := p.now().Before(p.cooldownUntil)
	p.mu.Unlock()

	if inCooldown {
		return ErrCooldown
	}

	return p.limiter.Wait(ctx)
}

// ArmCooldown はクールダウンを発動する。
// すでにクールダウン中の場合はデッドラインを延長する。
func (p *ratePacer) ArmCooldown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	until := p.now().Add(p.cooldown)
	if until.After(p.cooldownUntil) {
		p.cooldownUntil = until
	}
}

// CooldownRemaining はクールダウンの残り時間を返す。
func (p *ratePacer) CooldownRemaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := p.cooldownUntil.Sub(p.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// 実装がインターフェースを満たすことをコンパイル時に確認する。
var _ Pacer = (*ratePacer)(nil)
