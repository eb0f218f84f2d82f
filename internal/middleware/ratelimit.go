package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/lifetracker/internal/metrics"
	"github.com/hitoshi/lifetracker/internal/model"
)

// Tier はルートグループごとのレート制限の厳しさ。
type Tier string

const (
	TierHigh   Tier = "high"   // ユーザー・認証系
	TierMedium Tier = "medium" // トラック系
	TierLow    Tier = "low"    // サービス系
)

// TierLimit は1つのティアのレートとバーストサイズ。
type TierLimit struct {
	Rate  rate.Limit
	Burst int
}

// PerMinute は1分あたりn回を許可するTierLimitを返す。
func PerMinute(n int) TierLimit {
	return TierLimit{Rate: rate.Limit(float64(n) / 60.0), Burst: n}
}

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	Tiers           map[Tier]TierLimit
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// high 20 req/min、medium 120 req/min、low 600 req/min（クライアントごと）
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Tiers: map[Tier]TierLimit{
			TierHigh:   PerMinute(20),
			TierMedium: PerMinute(120),
			TierLow:    PerMinute(600),
		},
		CleanupInterval: 5 * time.Minute,
	}
}

// limiterKey はクライアントとティアの組。
type limiterKey struct {
	client string
	tier   Tier
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はクライアントアドレスとティアごとのレート制限を管理する。
// 制限を超えたリクエストは待たせずに429で拒否する。
type RateLimiter struct {
	config  RateLimiterConfig
	metrics metrics.MetricsCollector

	mu       sync.RWMutex
	limiters map[limiterKey]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, collector metrics.MetricsCollector) *RateLimiter {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:   config,
		metrics:  collector,
		limiters: make(map[limiterKey]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware は指定ティアのレート制限ミドルウェアを返す。
// クライアントはRemoteAddrで識別するため、chiのRealIPミドルウェアの後に配置する。
func (rl *RateLimiter) Middleware(tier Tier) func(next http.Handler) http.Handler {
	limit, ok := rl.config.Tiers[tier]
	if !ok {
		slog.Warn("rate limit tier is not configured; requests are not limited",
			slog.String("tier", string(tier)),
		)
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			limiter := rl.getOrCreateLimiter(limiterKey{client: client, tier: tier}, limit)

			if !limiter.Allow() {
				rl.metrics.RecordRateLimited(string(tier))
				writeRateLimitResponse(w, limit.Rate)
				slog.Warn("rate limit exceeded",
					slog.String("client", client),
					slog.String("tier", string(tier)),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// clientAddr はRemoteAddrからポートを除いたクライアントアドレスを返す。
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// getOrCreateLimiter はクライアントとティアのリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateLimiter(key limiterKey, limit TierLimit) *rate.Limiter {
	rl.mu.RLock()
	cl, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		cl.lastAccess = time.Now()
		rl.mu.Unlock()
		return cl.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// ダブルチェック
	if cl, exists := rl.limiters[key]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(limit.Rate, limit.Burst)
	rl.limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitExceededError())
}
