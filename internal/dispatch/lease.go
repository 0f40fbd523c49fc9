package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Lease は投稿枠ごとの公開権を管理する。
// 同じ投稿枠を並行したディスパッチが同時に公開しないよう、公開前に取得する。
type Lease interface {
	// Acquire は投稿枠の公開権を取得する。取得できなかった場合はok=falseを返す。
	// 取得できた場合は処理後に release を呼ぶこと。
	Acquire(ctx context.Context, slotID int64, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseLeaseScript は自分が保持しているリースだけを削除する。
var releaseLeaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// RedisLease はRedisの SET NX PX によるリース。複数プロセス間で共有できる。
type RedisLease struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

// compile-time interface check
var _ Lease = (*RedisLease)(nil)

// NewRedisLease はRedisLeaseを生成する。
func NewRedisLease(client goredis.UniversalClient, prefix string, logger *slog.Logger) *RedisLease {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLease{client: client, prefix: prefix, logger: logger}
}

// NewRedisClient はREDIS_URL形式の接続文字列からクライアントを生成する。
func NewRedisClient(redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLのパースに失敗しました: %w", err)
	}
	return goredis.NewClient(opts), nil
}

func (l *RedisLease) key(slotID int64) string {
	return fmt.Sprintf("%s:slot:%d", l.prefix, slotID)
}

// Acquire はリースを取得する。
func (l *RedisLease) Acquire(ctx context.Context, slotID int64, ttl time.Duration) (func(), bool, error) {
	key := l.key(slotID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("リースの取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// 呼び出し元のcontextがタイムアウトしていても解放できるよう独立したcontextを使う
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseLeaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("リースの解放に失敗しました",
				slog.Int64("slot_id", slotID),
				slog.String("error", err.Error()),
			)
		}
	}
	return release, true, nil
}

// LocalLease はプロセス内だけで有効なリース。Redisを使わない構成で使用する。
type LocalLease struct {
	mu   sync.Mutex
	held map[int64]time.Time
	now  func() time.Time
}

// compile-time interface check
var _ Lease = (*LocalLease)(nil)

// NewLocalLease はLocalLeaseを生成する。
func NewLocalLease() *LocalLease {
	return &LocalLease{held: make(map[int64]time.Time), now: time.Now}
}

// Acquire はリースを取得する。期限切れのリースは取得済みとみなさない。
func (l *LocalLease) Acquire(ctx context.Context, slotID int64, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[slotID]; ok && now.Before(exp) {
		return nil, false, nil
	}
	expires := now.Add(ttl)
	l.held[slotID] = expires

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[slotID].Equal(expires) {
			delete(l.held, slotID)
		}
	}
	return release, true, nil
}
