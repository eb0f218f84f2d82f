package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/lifetracker/internal/metrics"
	"github.com/hitoshi/lifetracker/internal/model"
)

// recordingCollector はレート制限の記録だけを保持するMetricsCollector。
type recordingCollector struct {
	metrics.Nop
	mu      sync.Mutex
	limited []string
}

func (c *recordingCollector) RecordRateLimited(tier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limited = append(c.limited, tier)
}

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Tiers: map[Tier]TierLimit{
			TierHigh:   {Rate: rate.Limit(1.0 / 60.0), Burst: 2},
			TierMedium: {Rate: rate.Limit(1.0 / 60.0), Burst: 5},
		},
		CleanupInterval: time.Hour,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/users", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimiter_AllowsWithinBurstThenRejects(t *testing.T) {
	collector := &recordingCollector{}
	rl := NewRateLimiter(testRateLimiterConfig(), collector)
	defer rl.Stop()

	handler := rl.Middleware(TierHigh)(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.0.2.1:1234"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.1:5678"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimitExceeded)
	}
	if len(collector.limited) != 1 || collector.limited[0] != "high" {
		t.Errorf("limited = %v, want [high]", collector.limited)
	}
}

func TestRateLimiter_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(), nil)
	defer rl.Stop()
	handler := rl.Middleware(TierHigh)(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1000"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.2:1000"))
	if w.Code != http.StatusOK {
		t.Errorf("別クライアントのstatus = %d, want 200", w.Code)
	}
}

func TestRateLimiter_TiersAreIndependent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(), nil)
	defer rl.Stop()
	high := rl.Middleware(TierHigh)(okHandler())
	medium := rl.Middleware(TierMedium)(okHandler())

	for i := 0; i < 3; i++ {
		high.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1000"))
	}

	w := httptest.NewRecorder()
	medium.ServeHTTP(w, requestFrom("192.0.2.1:1000"))
	if w.Code != http.StatusOK {
		t.Errorf("mediumティアのstatus = %d, want 200", w.Code)
	}
	if got := rl.LimiterCount(); got != 2 {
		t.Errorf("LimiterCount() = %d, want 2", got)
	}
}

func TestRateLimiter_UnconfiguredTierPassesThrough(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(), nil)
	defer rl.Stop()
	handler := rl.Middleware(TierLow)(okHandler())

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.0.2.1:1000"))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
	}
	if got := rl.LimiterCount(); got != 0 {
		t.Errorf("LimiterCount() = %d, want 0", got)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(), nil)
	defer rl.Stop()
	handler := rl.Middleware(TierHigh)(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:1000"))

	rl.mu.Lock()
	for _, cl := range rl.limiters {
		cl.lastAccess = time.Now().Add(-3 * time.Hour)
	}
	rl.mu.Unlock()

	rl.cleanup()

	if got := rl.LimiterCount(); got != 0 {
		t.Errorf("LimiterCount() = %d, want 0", got)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(), nil)
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	tests := []struct {
		tier  Tier
		burst int
	}{
		{TierHigh, 20},
		{TierMedium, 120},
		{TierLow, 600},
	}
	for _, tt := range tests {
		limit, ok := cfg.Tiers[tt.tier]
		if !ok {
			t.Fatalf("tier %s is not configured", tt.tier)
		}
		if limit.Burst != tt.burst {
			t.Errorf("%s burst = %d, want %d", tt.tier, limit.Burst, tt.burst)
		}
		if want := rate.Limit(float64(tt.burst) / 60.0); limit.Rate != want {
			t.Errorf("%s rate = %v, want %v", tt.tier, limit.Rate, want)
		}
	}
}
