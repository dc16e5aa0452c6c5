package roster

import (
	"sync"
	"time"
)

// messageLock は1メッセージ分のロックと最終アクセス時刻を保持する。
// refsは保持中・待機中のゴルーチン数で、MessageLocker.muが保護する。
type messageLock struct {
	mu         sync.Mutex
	refs       int
	lastAccess time.Time
}

// MessageLocker はロスターメッセージ単位の排他制御を提供する。
// 同一メッセージへの同時更新を直列化し、追記の取りこぼしを防ぐ。
// メッセージのキーは (channelID, messageRef) の組。
type MessageLocker struct {
	mu    sync.Mutex
	locks map[string]*messageLock

	cleanupInterval time.Duration
	stopCh          chan struct{}
}

// NewMessageLocker は新しいMessageLockerを生成する。
// バックグラウンドで使われなくなったエントリのクリーンアップを開始する。
func NewMessageLocker(cleanupInterval time.Duration) *MessageLocker {
	ml := &MessageLocker{
		locks:           make(map[string]*messageLock),
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}

	go ml.cleanupLoop()

	return ml
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (ml *MessageLocker) Stop() {
	close(ml.stopCh)
}

// Lock は指定メッセージのロックを取得し、解放用の関数を返す。
//
//	unlock := locker.Lock(channelID, messageRef)
//	defer unlock()
func (ml *MessageLocker) Lock(channelID, messageRef string) func() {
	key := channelID + "\x00" + messageRef

	ml.mu.Lock()
	l, exists := ml.locks[key]
	if !exists {
		l = &messageLock{}
		ml.locks[key] = l
	}
	l.refs++
	l.lastAccess = time.Now()
	ml.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		ml.mu.Lock()
		l.refs--
		ml.mu.Unlock()
	}
}

// Len は現在管理されているロックのエントリ数を返す。テストおよびメトリクス用。
func (ml *MessageLocker) Len() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return len(ml.locks)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (ml *MessageLocker) cleanupLoop() {
	ticker := time.NewTicker(ml.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.cleanup()
		case <-ml.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がcleanupIntervalの2倍を超えたエントリを削除する。
// 保持中・待機中のゴルーチンが残るエントリを消すと同じキーに別のミューテックスが
// 生まれてしまうため、参照数がゼロのエントリだけを回収する。
// ロスターメッセージは日単位なので、前日分のロックは自然に回収される。
func (ml *MessageLocker) cleanup() {
	ttl := ml.cleanupInterval * 2
	now := time.Now()

	ml.mu.Lock()
	defer ml.mu.Unlock()
	for key, l := range ml.locks {
		if l.refs == 0 && now.Sub(l.lastAccess) > ttl {
			delete(ml.locks, key)
		}
	}
}
