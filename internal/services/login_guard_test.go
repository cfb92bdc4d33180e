package services_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ks-hl/snailpoints/internal/auth"
	"github.com/ks-hl/snailpoints/internal/clock"
	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/internal/services"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const correctPassword = "Correct-Horse-1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// knownUsers resolves alice and bob case-insensitively
func knownUsers() *services.MockIdentityResolver {
	return &services.MockIdentityResolver{
		ResolveUsernameFunc: func(ctx context.Context, username string) (string, bool, error) {
			switch strings.ToLower(username) {
			case "alice":
				return "uid-alice", true, nil
			case "bob":
				return "uid-bob", true, nil
			}
			return "", false, nil
		},
	}
}

func passwordVerifier() *services.MockCredentialVerifier {
	return &services.MockCredentialVerifier{
		VerifyPasswordFunc: func(ctx context.Context, uid, password string) (bool, error) {
			return uid != "" && password == correctPassword, nil
		},
	}
}

type guardFixture struct {
	guard    *services.LoginGuard
	clock    *clock.Manual
	verifier *services.MockCredentialVerifier
	bans     *services.MockBanSink
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()
	clk := clock.NewManual(epoch)
	verifier := passwordVerifier()
	bans := &services.MockBanSink{}
	timing := auth.NewTimingDelay(auth.TimingConfig{BaseDelay: time.Second}, clk)

	guard := services.NewLoginGuard(knownUsers(), verifier, bans, timing, clk,
		services.DefaultLoginGuardConfig(), discardLogger())

	return &guardFixture{guard: guard, clock: clk, verifier: verifier, bans: bans}
}

func TestLoginGuard_Success(t *testing.T) {
	f := newGuardFixture(t)

	uid, err := f.guard.Attempt(context.Background(), "alice", correctPassword, "203.0.113.10")

	require.NoError(t, err)
	assert.Equal(t, "uid-alice", uid)
	assert.Equal(t, epoch.Add(time.Second), f.clock.Now(), "minimum delay applied on success")
}

func TestLoginGuard_ThreeFailuresInAMinuteRateLimitsTheFourth(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.guard.Attempt(ctx, "alice", "wrong", "203.0.113.10")
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	require.Len(t, f.verifier.Calls(), 3)

	_, err := f.guard.Attempt(ctx, "alice", correctPassword, "203.0.113.10")

	var limited *models.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
	assert.Equal(t, models.ScopeUsername, limited.Scope)
	assert.Equal(t, time.Minute, limited.Window)
	assert.Equal(t, 60, limited.RetryAfterSeconds())
	assert.Len(t, f.verifier.Calls(), 3, "verifier not consulted when rate limited")
}

func TestLoginGuard_FiveFailuresInFiveMinutes(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	// One failure every 70s keeps the 60s window below its limit
	for i := 0; i < 5; i++ {
		f.clock.Set(epoch.Add(time.Duration(i) * 70 * time.Second))
		_, err := f.guard.Attempt(ctx, "alice", "wrong", fmt.Sprintf("198.51.100.%d", i))
		require.ErrorIs(t, err, models.ErrInvalidCredentials, "attempt %d", i+1)
	}

	f.clock.Set(epoch.Add(290 * time.Second))
	_, err := f.guard.Attempt(ctx, "alice", correctPassword, "198.51.100.99")

	var limited *models.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, models.ScopeUsername, limited.Scope)
	assert.Equal(t, 5*time.Minute, limited.Window)
	assert.Len(t, f.verifier.Calls(), 5)
}

func TestLoginGuard_WindowsExpire(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.guard.Attempt(ctx, "alice", "wrong", "203.0.113.10")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	f.clock.Advance(2 * time.Minute)

	uid, err := f.guard.Attempt(ctx, "alice", correctPassword, "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, "uid-alice", uid)
}

func TestLoginGuard_SourceScope(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := f.guard.Attempt(ctx, name, "wrong", "203.0.113.10")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	_, err := f.guard.Attempt(ctx, "dave", "wrong", "203.0.113.10")

	var limited *models.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, models.ScopeSource, limited.Scope)

	// Another address is unaffected
	uid, err := f.guard.Attempt(ctx, "bob", correctPassword, "198.51.100.1")
	require.NoError(t, err)
	assert.Equal(t, "uid-bob", uid)
}

func TestLoginGuard_SuccessClearsWindows(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.guard.Attempt(ctx, "alice", "wrong", "203.0.113.10")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	_, err := f.guard.Attempt(ctx, "alice", correctPassword, "203.0.113.10")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.guard.Attempt(ctx, "alice", "wrong", "203.0.113.10")
		assert.ErrorIs(t, err, models.ErrInvalidCredentials, "failure %d after success is not rate limited", i+1)
		assert.NotErrorIs(t, err, models.ErrRateLimitExceeded)
	}
}

func TestLoginGuard_UsernameIsCaseInsensitive(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for i, name := range []string{"alice", "ALICE", "Alice"} {
		_, err := f.guard.Attempt(ctx, name, "wrong", fmt.Sprintf("198.51.100.%d", i))
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	_, err := f.guard.Attempt(ctx, "aLiCe", correctPassword, "192.0.2.1")
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
}

func TestLoginGuard_UnknownUsernameIsEqualized(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	start := f.clock.Now()
	_, err := f.guard.Attempt(ctx, "nobody", correctPassword, "203.0.113.10")

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, []string{""}, f.verifier.Calls(), "verifier still runs with an empty uid")
	assert.Equal(t, start.Add(time.Second), f.clock.Now(), "minimum delay applied")

	for i := 0; i < 2; i++ {
		_, err = f.guard.Attempt(ctx, "nobody", correctPassword, "203.0.113.10")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	_, err = f.guard.Attempt(ctx, "nobody", correctPassword, "203.0.113.10")
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded, "unknown usernames are throttled like known ones")
}

func TestLoginGuard_BanAboveThreshold(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		_, err := f.guard.Attempt(ctx, fmt.Sprintf("user%d", i), "wrong", "203.0.113.66")
		require.Error(t, err)
	}
	assert.Empty(t, f.bans.Banned(), "30 attempts are not above the threshold")

	_, err := f.guard.Attempt(ctx, "user31", "wrong", "203.0.113.66")
	require.Error(t, err)
	assert.Equal(t, []string{"203.0.113.66"}, f.bans.Banned())

	_, err = f.guard.Attempt(ctx, "user32", "wrong", "203.0.113.66")
	require.Error(t, err)
	assert.Len(t, f.bans.Banned(), 2, "every later attempt bans again")
}

func TestLoginGuard_BanSinkFailureDoesNotChangeOutcome(t *testing.T) {
	f := newGuardFixture(t)
	f.bans.BanFunc = func(ctx context.Context, sourceAddress string) error {
		return errors.New("ban store down")
	}
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		_, _ = f.guard.Attempt(ctx, fmt.Sprintf("user%d", i), "wrong", "203.0.113.66")
	}

	_, err := f.guard.Attempt(ctx, "user31", "wrong", "203.0.113.66")
	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
	assert.Len(t, f.bans.Banned(), 1)
}

func TestLoginGuard_SuccessResetsPersistentCount(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		_, _ = f.guard.Attempt(ctx, fmt.Sprintf("user%d", i), "wrong", "203.0.113.66")
	}

	require.NoError(t, f.guard.ClearAllSources(ctx))
	f.clock.Advance(10 * time.Minute)

	_, err := f.guard.Attempt(ctx, "alice", correctPassword, "203.0.113.66")
	require.NoError(t, err)
	assert.Empty(t, f.bans.Banned(), "a successful attempt is never banned")

	_, err = f.guard.Attempt(ctx, "bob", "wrong", "203.0.113.66")
	require.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Empty(t, f.bans.Banned(), "count restarted after success")
}

func TestLoginGuard_RecordAbuseAndClearSource(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for i := 0; i < 31; i++ {
		require.NoError(t, f.guard.RecordAbuse(ctx, "203.0.113.77"))
	}
	assert.Equal(t, []string{"203.0.113.77"}, f.bans.Banned())

	require.NoError(t, f.guard.ClearSource(ctx, "203.0.113.77"))
	require.NoError(t, f.guard.RecordAbuse(ctx, "203.0.113.77"))
	assert.Len(t, f.bans.Banned(), 1)
}

func TestLoginGuard_ClearUsernameLiftsRateLimit(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = f.guard.Attempt(ctx, "alice", "wrong", fmt.Sprintf("198.51.100.%d", i))
	}

	require.NoError(t, f.guard.ClearUsername(ctx, "ALICE"))

	uid, err := f.guard.Attempt(ctx, "alice", correctPassword, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "uid-alice", uid)
}

func TestLoginGuard_ResolverErrorIsServiceBusy(t *testing.T) {
	clk := clock.NewManual(epoch)
	resolver := &services.MockIdentityResolver{
		ResolveUsernameFunc: func(ctx context.Context, username string) (string, bool, error) {
			return "", false, errors.New("connection refused")
		},
	}
	guard := services.NewLoginGuard(resolver, passwordVerifier(), &services.MockBanSink{},
		auth.NewTimingDelay(auth.TimingConfig{BaseDelay: time.Second}, clk), clk,
		services.DefaultLoginGuardConfig(), discardLogger())

	_, err := guard.Attempt(context.Background(), "alice", correctPassword, "203.0.113.10")
	assert.ErrorIs(t, err, models.ErrServiceBusy)
	assert.NotErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestLoginGuard_VerifierErrorIsServiceBusy(t *testing.T) {
	f := newGuardFixture(t)
	f.verifier.VerifyPasswordFunc = func(ctx context.Context, uid, password string) (bool, error) {
		return false, errors.New("db timeout")
	}

	_, err := f.guard.Attempt(context.Background(), "alice", correctPassword, "203.0.113.10")
	assert.ErrorIs(t, err, models.ErrServiceBusy)
}

func newRealClockGuard(verifier services.CredentialVerifier, minDelay, lockWait time.Duration) *services.LoginGuard {
	clk := clock.NewSystem()
	cfg := services.DefaultLoginGuardConfig()
	cfg.LockWait = lockWait
	return services.NewLoginGuard(knownUsers(), verifier, &services.MockBanSink{},
		auth.NewTimingDelay(auth.TimingConfig{BaseDelay: minDelay}, clk), clk, cfg, discardLogger())
}

func TestLoginGuard_MinimumLatencyForEveryOutcome(t *testing.T) {
	const minDelay = 250 * time.Millisecond
	const slack = 400 * time.Millisecond
	guard := newRealClockGuard(passwordVerifier(), minDelay, time.Second)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := []struct {
		name     string
		ctx      context.Context
		username string
		password string
		check    func(t *testing.T, err error)
	}{
		{"wrong password", context.Background(), "alice", "wrong", func(t *testing.T, err error) { assert.ErrorIs(t, err, models.ErrInvalidCredentials) }},
		{"success", context.Background(), "alice", correctPassword, func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"unknown username", context.Background(), "mallory", correctPassword, func(t *testing.T, err error) { assert.ErrorIs(t, err, models.ErrInvalidCredentials) }},
		{"cancelled request", cancelled, "alice", "wrong", func(t *testing.T, err error) { assert.Error(t, err) }},
	}

	for _, a := range attempts {
		start := time.Now()
		_, err := guard.Attempt(a.ctx, a.username, a.password, "203.0.113.10")
		elapsed := time.Since(start)

		a.check(t, err)
		assert.GreaterOrEqual(t, elapsed, minDelay, a.name)
		assert.Less(t, elapsed, minDelay+slack, a.name)
	}

	for i := 0; i < 3; i++ {
		_, _ = guard.Attempt(context.Background(), "bob", "wrong", "198.51.100.1")
	}
	start := time.Now()
	_, err := guard.Attempt(context.Background(), "bob", "wrong", "198.51.100.1")
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, models.ErrRateLimitExceeded)
	assert.GreaterOrEqual(t, elapsed, minDelay, "rate limited")
	assert.Less(t, elapsed, minDelay+slack, "rate limited")
}

func TestLoginGuard_CancelledAttemptHoldsUsernameForMinimumDelay(t *testing.T) {
	const minDelay = 300 * time.Millisecond
	verified := make(chan time.Time, 2)
	verifier := &services.MockCredentialVerifier{
		VerifyPasswordFunc: func(ctx context.Context, uid, password string) (bool, error) {
			verified <- time.Now()
			return false, nil
		},
	}
	guard := newRealClockGuard(verifier, minDelay, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	firstDone := make(chan time.Duration, 1)
	go func() {
		_, _ = guard.Attempt(ctx, "alice", "wrong", "203.0.113.10")
		firstDone <- time.Since(start)
	}()

	select {
	case <-verified:
	case <-time.After(2 * time.Second):
		t.Fatal("first attempt never reached verification")
	}

	time.Sleep(50 * time.Millisecond)
	cancel()

	secondDone := make(chan error, 1)
	go func() {
		_, err := guard.Attempt(context.Background(), "alice", "wrong", "198.51.100.7")
		secondDone <- err
	}()

	select {
	case second := <-verified:
		assert.GreaterOrEqual(t, second.Sub(start), minDelay,
			"second attempt verified before the first one's minimum delay elapsed")
	case <-time.After(3 * time.Second):
		t.Fatal("second attempt never reached verification")
	}

	assert.GreaterOrEqual(t, <-firstDone, minDelay, "cancelled attempt returned early")
	assert.ErrorIs(t, <-secondDone, models.ErrInvalidCredentials)
}

func TestLoginGuard_SameUsernameIsSerialized(t *testing.T) {
	var inside, maxInside atomic.Int32
	verifier := &services.MockCredentialVerifier{
		VerifyPasswordFunc: func(ctx context.Context, uid, password string) (bool, error) {
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			return true, nil
		},
	}
	guard := newRealClockGuard(verifier, 10*time.Millisecond, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := guard.Attempt(context.Background(), "alice", correctPassword, fmt.Sprintf("198.51.100.%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLoginGuard_DifferentUsernamesRunInParallel(t *testing.T) {
	aliceIn := make(chan struct{})
	bobIn := make(chan struct{})
	verifier := &services.MockCredentialVerifier{
		VerifyPasswordFunc: func(ctx context.Context, uid, password string) (bool, error) {
			mine, other := aliceIn, bobIn
			if uid == "uid-bob" {
				mine, other = bobIn, aliceIn
			}
			close(mine)
			select {
			case <-other:
				return true, nil
			case <-time.After(2 * time.Second):
				return false, errors.New("other username never ran concurrently")
			}
		},
	}
	guard := newRealClockGuard(verifier, 0, time.Second)

	var wg sync.WaitGroup
	for _, name := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := guard.Attempt(context.Background(), name, correctPassword, "203.0.113.10")
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()
}

func TestLoginGuard_LockTimeoutIsInvalidCredentials(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	verifier := &services.MockCredentialVerifier{
		VerifyPasswordFunc: func(ctx context.Context, uid, password string) (bool, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return false, nil
		},
	}
	guard := newRealClockGuard(verifier, 0, 30*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = guard.Attempt(context.Background(), "alice", "wrong", "203.0.113.10")
	}()
	<-entered

	_, err := guard.Attempt(context.Background(), "ALICE", "wrong", "198.51.100.1")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, int32(1), calls.Load(), "timed out attempt never reached the verifier")

	close(release)
	<-done
}

func TestLoginGuard_Sweep(t *testing.T) {
	f := newGuardFixture(t)
	ctx := context.Background()

	_, err := f.guard.Attempt(ctx, "alice", "wrong", "203.0.113.10")
	require.ErrorIs(t, err, models.ErrInvalidCredentials)

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.guard.Sweep(ctx))

	for i := 0; i < 2; i++ {
		_, err = f.guard.Attempt(ctx, "alice", "wrong", "203.0.113.10")
		require.ErrorIs(t, err, models.ErrInvalidCredentials)
	}
	_, err = f.guard.Attempt(ctx, "alice", correctPassword, "203.0.113.10")
	assert.NoError(t, err, "swept failures no longer count")
}
