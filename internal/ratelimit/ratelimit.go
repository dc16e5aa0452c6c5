// Package ratelimit はユーザーごとのレート制限を提供する。
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config はレート制限の設定を保持する。
type Config struct {
	GeneralRate     rate.Limit    // Webhook全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // Webhook全般のバーストサイズ
	CheckRate       rate.Limit    // 出退勤操作のレート（req/sec）。10/60
	CheckBurst      int           // 出退勤操作のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultConfig はデフォルトのレート制限設定を返す。
// Webhook全般 120 req/min/user、出退勤操作 10 req/min/user
func DefaultConfig() Config {
	return Config{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		CheckRate:       rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		CheckBurst:      10,
		CleanupInterval: 5 * time.Minute,
	}
}

// ConfigFromBudgets は毎分のリクエスト数上限からConfigを組み立てる。
func ConfigFromBudgets(generalPerMinute, checkPerMinute int) Config {
	return Config{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		CheckRate:       rate.Limit(float64(checkPerMinute) / 60.0),
		CheckBurst:      checkPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter はプラットフォームのユーザーIDをキーとしたレート制限を管理する。
// Webhook全般の制限と出退勤操作の制限の2種類を提供する。
// HTTPセッションは存在しないため、ミドルウェアではなくサービスとして
// 各ハンドラーから明示的に呼び出す。
type Limiter struct {
	config Config

	generalMu       sync.RWMutex
	generalLimiters map[string]*userLimiter

	checkMu       sync.RWMutex
	checkLimiters map[string]*userLimiter

	stopCh chan struct{}
}

// NewLimiter は新しいLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewLimiter(config Config) *Limiter {
	l := &Limiter{
		config:          config,
		generalLimiters: make(map[string]*userLimiter),
		checkLimiters:   make(map[string]*userLimiter),
		stopCh:          make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (l *Limiter) Stop() {
	close(l.stopCh)
}

// AllowGeneral はWebhook全般の制限内で指定ユーザーのリクエストを許可するか判定する。
func (l *Limiter) AllowGeneral(userID string) bool {
	return l.getOrCreate(userID, &l.generalMu, l.generalLimiters, l.config.GeneralRate, l.config.GeneralBurst).Allow()
}

// AllowCheck は出退勤操作の制限内で指定ユーザーのリクエストを許可するか判定する。
// Webhook全般の制限とは独立に動作する。
func (l *Limiter) AllowCheck(userID string) bool {
	return l.getOrCreate(userID, &l.checkMu, l.checkLimiters, l.config.CheckRate, l.config.CheckBurst).Allow()
}

// GeneralLimiterCount は現在管理されているWebhook全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (l *Limiter) GeneralLimiterCount() int {
	l.generalMu.RLock()
	defer l.generalMu.RUnlock()
	return len(l.generalLimiters)
}

// CheckLimiterCount は現在管理されている出退勤操作リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (l *Limiter) CheckLimiterCount() int {
	l.checkMu.RLock()
	defer l.checkMu.RUnlock()
	return len(l.checkLimiters)
}

// getOrCreate はユーザーのリミッターを取得または作成する。
func (l *Limiter) getOrCreate(userID string, mu *sync.RWMutex, limiters map[string]*userLimiter, r rate.Limit, burst int) *rate.Limiter {
	mu.RLock()
	ul, exists := limiters[userID]
	mu.RUnlock()

	if exists {
		mu.Lock()
		ul.lastAccess = time.Now()
		mu.Unlock()
		return ul.limiter
	}

	mu.Lock()
	defer mu.Unlock()

	// ダブルチェック
	if ul, exists := limiters[userID]; exists {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	limiter := rate.NewLimiter(r, burst)
	limiters[userID] = &userLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (l *Limiter) cleanup() {
	ttl := l.config.CleanupInterval * 2

	now := time.Now()

	l.generalMu.Lock()
	for userID, ul := range l.generalLimiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(l.generalLimiters, userID)
		}
	}
	l.generalMu.Unlock()

	l.checkMu.Lock()
	for userID, ul := range l.checkLimiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(l.checkLimiters, userID)
		}
	}
	l.checkMu.Unlock()
}
