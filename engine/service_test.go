package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "levelbot/adapters/memory"
	"levelbot/core"
)

type maxRoller struct{}

func (maxRoller) IntN(n int) int { return n - 1 }

type minRoller struct{}

func (minRoller) IntN(int) int { return 0 }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *Service
	store *mem.Store
	clock *fakeClock
}

func newFixture(t *testing.T, roller core.Roller, mutate ...func(*Options)) fixture {
	t.Helper()
	store := mem.New()
	clock := &fakeClock{t: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}
	opts := Options{Groups: store, Roller: roller, Now: clock.Now}
	for _, m := range mutate {
		m(&opts)
	}
	svc := NewService(store, NewEventBus(DispatchSync), opts)
	t.Cleanup(svc.Close)
	return fixture{svc: svc, store: store, clock: clock}
}

func (f fixture) profile(t *testing.T, user core.UserID) core.Profile {
	t.Helper()
	p, found, err := f.store.GetProfile(context.Background(), user)
	require.NoError(t, err)
	require.True(t, found, "profile %s missing", user)
	return p
}

func seed(xp int64) core.Profile {
	p := core.NewProfile("u1")
	p.XP = xp
	p.Level = core.LevelFor(xp)
	p.RankTitle = core.RankTitleFor(p.Level)
	return p
}

func TestAwardLevelsUpAcrossThreshold(t *testing.T) {
	f := newFixture(t, maxRoller{})
	f.store.Seed(seed(90))

	res := f.svc.Award(context.Background(), "u1", core.ActivityMessage, "")
	require.NotNil(t, res)
	assert.Equal(t, int64(1), res.OldLevel)
	assert.Equal(t, int64(2), res.NewLevel)
	assert.Equal(t, int64(105), res.TotalXP)
	assert.Equal(t, int64(250), res.RequiredXPForNext)
	assert.Equal(t, core.LevelUpCoins(2), res.CoinReward)
	assert.Equal(t, "Novice", res.RankTitle)

	p := f.profile(t, "u1")
	assert.Equal(t, int64(105), p.XP)
	assert.Equal(t, int64(2), p.Level)
	assert.Equal(t, core.LevelUpCoins(2), p.Coins)
	assert.Equal(t, core.ActivityStat{Count: 1, XP: 15}, p.ActivityStats[core.ActivityMessage])
}

func TestAwardWithoutLevelUpReturnsNil(t *testing.T) {
	f := newFixture(t, minRoller{})
	res := f.svc.Award(context.Background(), "u1", core.ActivityMessage, "")
	assert.Nil(t, res)
	p := f.profile(t, "u1")
	assert.Equal(t, int64(5), p.XP)
	assert.Equal(t, int64(1), p.Level)
}

func TestGlobalCooldownRejectsRapidMessages(t *testing.T) {
	f := newFixture(t, minRoller{})
	f.store.Seed(seed(100))
	ctx := context.Background()

	f.svc.Award(ctx, "u1", core.ActivityMessage, "")
	require.Equal(t, int64(105), f.profile(t, "u1").XP)

	f.clock.Advance(5 * time.Second)
	f.svc.Award(ctx, "u1", core.ActivityMessage, "")
	assert.Equal(t, int64(105), f.profile(t, "u1").XP, "second award inside the window must be rejected")

	f.clock.Advance(DefaultGlobalCooldown)
	f.svc.Award(ctx, "u1", core.ActivityMessage, "")
	assert.Equal(t, int64(110), f.profile(t, "u1").XP)
}

func TestGroupCooldownIsScopedPerGroup(t *testing.T) {
	f := newFixture(t, minRoller{})
	ctx := context.Background()

	f.svc.Award(ctx, "u1", core.ActivityMessage, "g1")
	f.svc.Award(ctx, "u1", core.ActivityMessage, "g2")
	f.svc.Award(ctx, "u1", core.ActivityMessage, "")
	f.svc.Award(ctx, "u1", core.ActivityMessage, "g1")
	assert.Equal(t, int64(15), f.profile(t, "u1").XP)

	f.clock.Advance(DefaultGroupCooldown + time.Second)
	f.svc.Award(ctx, "u1", core.ActivityMessage, "g1")
	assert.Equal(t, int64(20), f.profile(t, "u1").XP)
}

func TestExemptActivitiesSkipCooldown(t *testing.T) {
	f := newFixture(t, minRoller{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.svc.Award(ctx, "u1", core.ActivityCommand, "g1")
		f.svc.Award(ctx, "u1", core.ActivityQuiz, "g1")
	}
	p := f.profile(t, "u1")
	assert.Equal(t, int64(3*3+3*20), p.XP)
	assert.Equal(t, int64(3), p.ActivityStats[core.ActivityQuiz].Count)
}

func TestDisabledGroupIsSilentNoop(t *testing.T) {
	f := newFixture(t, maxRoller{})
	ctx := context.Background()
	require.NoError(t, f.store.SetFeature(ctx, "g1", core.FeatureLeveling, false))

	assert.Nil(t, f.svc.Award(ctx, "u1", core.ActivityQuiz, "g1"))
	_, found, _ := f.store.GetProfile(ctx, "u1")
	assert.False(t, found)

	// private chats are never gated
	f.svc.Award(ctx, "u1", core.ActivityQuiz, "")
	assert.Equal(t, int64(50), f.profile(t, "u1").XP)
}

type brokenFlags struct{}

func (brokenFlags) IsFeatureEnabled(context.Context, core.GroupID, string) (bool, error) {
	return false, errors.New("settings file unreadable")
}
func (brokenFlags) SetFeature(context.Context, core.GroupID, string, bool) error { return nil }

func TestFlagLookupFailureSkipsAward(t *testing.T) {
	f := newFixture(t, maxRoller{}, func(o *Options) { o.Groups = brokenFlags{} })
	assert.Nil(t, f.svc.Award(context.Background(), "u1", core.ActivityQuiz, "g1"))
	_, found, _ := f.store.GetProfile(context.Background(), "u1")
	assert.False(t, found)
}

func TestUnknownActivityUsesMessageRange(t *testing.T) {
	f := newFixture(t, maxRoller{})
	f.svc.Award(context.Background(), "u1", core.Activity("teleport"), "")
	p := f.profile(t, "u1")
	assert.Equal(t, int64(15), p.XP)
	assert.Equal(t, int64(1), p.ActivityStats[core.ActivityMessage].Count)
}

func TestLevelMultiplierForHighLevels(t *testing.T) {
	f := newFixture(t, maxRoller{})
	f.store.Seed(seed(core.RequiredXPFor(15)))
	f.svc.Award(context.Background(), "u1", core.ActivityGame, "")
	assert.Equal(t, core.RequiredXPFor(15)+42, f.profile(t, "u1").XP)
}

func TestDailyStreak(t *testing.T) {
	f := newFixture(t, minRoller{})
	ctx := context.Background()

	f.svc.Award(ctx, "u1", core.ActivityDaily, "")
	p := f.profile(t, "u1")
	assert.Equal(t, int64(1), p.DailyStreak)
	assert.Equal(t, int64(50), p.XP)

	// a second claim on the same day is ignored
	f.clock.Advance(2 * time.Hour)
	f.svc.Award(ctx, "u1", core.ActivityDaily, "")
	assert.Equal(t, int64(50), f.profile(t, "u1").XP)

	f.clock.Advance(24 * time.Hour)
	f.svc.Award(ctx, "u1", core.ActivityDaily, "")
	f.clock.Advance(24 * time.Hour)
	f.svc.Award(ctx, "u1", core.ActivityDaily, "")

	p = f.profile(t, "u1")
	assert.Equal(t, int64(3), p.DailyStreak)
	// day three earns the 1.2x tier: 50 * 1.2 = 60
	assert.Equal(t, int64(50+50+60), p.XP)
	assert.True(t, p.HasAchievement("streak_3"))
	assert.Equal(t, int64(50)+core.LevelUpCoins(2), p.Coins)

	// missing a day resets the streak
	f.clock.Advance(48 * time.Hour)
	f.svc.Award(ctx, "u1", core.ActivityDaily, "")
	p = f.profile(t, "u1")
	assert.Equal(t, int64(1), p.DailyStreak)
	assert.Equal(t, int64(50)+core.LevelUpCoins(2), p.Coins, "streak bonus is paid once")
}

func TestMilestoneAchievementUnlocksOnce(t *testing.T) {
	f := newFixture(t, maxRoller{})
	ctx := context.Background()
	f.store.Seed(seed(990))

	res := f.svc.Award(ctx, "u1", core.ActivityQuiz, "")
	require.NotNil(t, res)
	assert.Equal(t, int64(5), res.NewLevel)
	assert.Equal(t, int64(5), res.Milestone)
	assert.Equal(t, core.Achievement("level_5"), res.AchievementUnlocked)
	assert.Equal(t, core.LevelUpCoins(5)+500, res.CoinReward)

	// corrective re-grant: knock the user back and cross level 5 again
	_, err := f.svc.SetXP(ctx, "u1", 990)
	require.NoError(t, err)
	res = f.svc.Award(ctx, "u1", core.ActivityQuiz, "")
	require.NotNil(t, res)
	assert.Zero(t, res.Milestone, "only newly unlocked milestones are reported")
	assert.Empty(t, res.AchievementUnlocked)
	assert.Equal(t, core.LevelUpCoins(5), res.CoinReward)

	p := f.profile(t, "u1")
	assert.Len(t, p.Achievements, 1)
}

func TestLevelInvariantHoldsAfterManyAwards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	activities := []core.Activity{core.ActivityMessage, core.ActivityQuiz, core.ActivityGame, core.ActivityDaily, core.ActivityVoice}
	users := []core.UserID{"a", "b", "c"}
	for i := 0; i < 300; i++ {
		f.clock.Advance(7 * time.Hour)
		user := users[i%len(users)]
		f.svc.Award(ctx, user, activities[i%len(activities)], core.GroupID(fmt.Sprintf("g%d", i%2)))
		p := f.profile(t, user)
		require.Equal(t, core.LevelFor(p.XP), p.Level, "user %s xp %d", user, p.XP)
		require.Equal(t, core.RankTitleFor(p.Level), p.RankTitle)
	}
}

func TestConcurrentAwardsSerializePerUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.Award(ctx, "u1", core.ActivityCommand, "")
		}()
	}
	wg.Wait()
	p := f.profile(t, "u1")
	assert.Equal(t, int64(50), p.ActivityStats[core.ActivityCommand].Count)
	assert.Equal(t, p.ActivityStats[core.ActivityCommand].XP, p.XP)
	assert.Equal(t, core.LevelFor(p.XP), p.Level)
}

func TestLevelUpEventsPublished(t *testing.T) {
	f := newFixture(t, maxRoller{})
	f.store.Seed(seed(990))
	var got []core.EventType
	f.svc.SubscribeAll(func(_ context.Context, e core.Event) { got = append(got, e.Type) })

	f.svc.Award(context.Background(), "u1", core.ActivityQuiz, "")
	assert.Equal(t, []core.EventType{core.EventXPAwarded, core.EventAchievementUnlocked, core.EventLevelUp}, got)
}

func TestEventsCarryServiceClock(t *testing.T) {
	f := newFixture(t, maxRoller{})
	f.store.Seed(seed(990))
	var got []core.Event
	f.svc.SubscribeAll(func(_ context.Context, e core.Event) { got = append(got, e) })

	f.svc.Award(context.Background(), "u1", core.ActivityQuiz, "")
	require.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, f.clock.Now(), e.Time, "event %s", e.Type)
	}
}

func TestGetProgressMalformedProfile(t *testing.T) {
	f := newFixture(t, nil)
	var p core.Profile
	require.NoError(t, json.Unmarshal([]byte(`{"id":"u1","xp":"not-a-number","level":4}`), &p))
	f.store.Seed(p)

	prog := f.svc.GetProgress(context.Background(), "u1")
	assert.Equal(t, int64(1), prog.CurrentLevel)
	assert.Equal(t, int64(0), prog.CurrentXP)
	assert.Equal(t, int64(100), prog.RequiredXP)
}

func TestGetProgressUnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	prog := f.svc.GetProgress(context.Background(), "nobody")
	assert.Equal(t, core.ProgressFor(0), prog)
}

type failingStore struct{ panics bool }

func (s failingStore) GetProfile(context.Context, core.UserID) (core.Profile, bool, error) {
	if s.panics {
		panic("corrupt record")
	}
	return core.Profile{}, false, errors.New("disk full")
}
func (s failingStore) SetProfile(context.Context, core.UserID, core.ProfilePatch) error {
	return errors.New("disk full")
}
func (s failingStore) ListProfiles(context.Context) ([]core.Profile, error) {
	if s.panics {
		panic("not iterable")
	}
	return nil, errors.New("disk full")
}

func TestStoreFailuresNeverEscape(t *testing.T) {
	for _, panics := range []bool{false, true} {
		t.Run(fmt.Sprintf("panics=%v", panics), func(t *testing.T) {
			svc := NewService(failingStore{panics: panics}, NewEventBus(DispatchSync), Options{Roller: maxRoller{}})
			defer svc.Close()
			ctx := context.Background()

			assert.NotPanics(t, func() {
				assert.Nil(t, svc.Award(ctx, "u1", core.ActivityQuiz, ""))
				assert.Equal(t, core.ProgressFor(0), svc.GetProgress(ctx, "u1"))
				assert.Empty(t, svc.GetLeaderboard(ctx, 10))
				_, ranked := svc.GetRank(ctx, "u1")
				assert.False(t, ranked)
				assert.Nil(t, svc.GetOrRenderLevelCard(ctx, "u1", core.CardData{}))
				_, err := svc.SetXP(ctx, "u1", 10)
				assert.Error(t, err)
				_, err = svc.FixLevels(ctx)
				assert.Error(t, err)
			})
		})
	}
}

func TestInvalidUserIDIsIgnored(t *testing.T) {
	f := newFixture(t, maxRoller{})
	assert.Nil(t, f.svc.Award(context.Background(), "   ", core.ActivityQuiz, ""))
	all, _ := f.store.ListProfiles(context.Background())
	assert.Empty(t, all)
}

func TestLeaderboardAndRank(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i, xp := range []int64{50, 900, 300} {
		p := seed(xp)
		p.ID = core.UserID(fmt.Sprintf("u%d", i))
		f.store.Seed(p)
	}
	top := f.svc.GetLeaderboard(ctx, 2)
	require.Len(t, top, 2)
	assert.Equal(t, core.UserID("u1"), top[0].ID)
	assert.Equal(t, core.UserID("u2"), top[1].ID)

	rank, ok := f.svc.GetRank(ctx, "u0")
	assert.True(t, ok)
	assert.Equal(t, 3, rank)
	_, ok = f.svc.GetRank(ctx, "ghost")
	assert.False(t, ok)
}

func TestFixLevelsRepairsStoredLevels(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bad := seed(300)
	bad.Level = 9
	f.store.Seed(bad)
	good := seed(1200)
	good.ID = "u2"
	f.store.Seed(good)

	n, err := f.svc.FixLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(3), f.profile(t, "u1").Level)

	n, err = f.svc.FixLevels(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetXPRejectsNegative(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SetXP(context.Background(), "u1", -1)
	assert.Error(t, err)
}

func TestResetClearsCooldowns(t *testing.T) {
	f := newFixture(t, minRoller{})
	ctx := context.Background()
	f.svc.Award(ctx, "u1", core.ActivityMessage, "")
	f.svc.Reset()
	f.svc.Award(ctx, "u1", core.ActivityMessage, "")
	assert.Equal(t, int64(10), f.profile(t, "u1").XP)
}

// listHookStore runs afterList once, right after a profile snapshot is taken.
type listHookStore struct {
	*mem.Store
	once      sync.Once
	afterList func()
}

func (s *listHookStore) ListProfiles(ctx context.Context) ([]core.Profile, error) {
	ps, err := s.Store.ListProfiles(ctx)
	s.once.Do(s.afterList)
	return ps, err
}

func TestFixLevelsKeepsAwardsAfterSnapshot(t *testing.T) {
	store := &listHookStore{Store: mem.New()}
	svc := NewService(store, NewEventBus(DispatchSync), Options{Roller: maxRoller{}})
	t.Cleanup(svc.Close)
	ctx := context.Background()
	bad := seed(300)
	bad.Level = 9
	store.Seed(bad)
	store.afterList = func() { svc.Award(ctx, "u1", core.ActivityQuiz, "") }

	_, err := svc.FixLevels(ctx)
	require.NoError(t, err)

	p, _, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(350), p.XP)
	assert.Equal(t, core.LevelFor(350), p.Level)
	assert.Equal(t, core.ActivityStat{Count: 1, XP: 50}, p.ActivityStats[core.ActivityQuiz])
}

type countingRenderer struct{ renders atomic.Int32 }

func (r *countingRenderer) Render(_ context.Context, data core.CardData) (core.Card, error) {
	n := r.renders.Add(1)
	return core.Card{Image: []byte(fmt.Sprintf("%s@%d#%d", data.UserID, data.Level, n))}, nil
}

func TestLevelUpInvalidatesCachedCard(t *testing.T) {
	r := &countingRenderer{}
	f := newFixture(t, maxRoller{}, func(o *Options) { o.Renderer = r })
	f.store.Seed(seed(90))
	ctx := context.Background()

	first := f.svc.GetOrRenderLevelCard(ctx, "u1", f.svc.CardData(ctx, "u1"))
	require.NotNil(t, first)
	again := f.svc.GetOrRenderLevelCard(ctx, "u1", f.svc.CardData(ctx, "u1"))
	assert.Equal(t, first, again)
	assert.Equal(t, int32(1), r.renders.Load(), "cache hit skips the renderer")

	require.NotNil(t, f.svc.Award(ctx, "u1", core.ActivityMessage, ""))
	fresh := f.svc.GetOrRenderLevelCard(ctx, "u1", f.svc.CardData(ctx, "u1"))
	assert.Equal(t, int32(2), r.renders.Load())
	assert.Equal(t, "u1@2#2", string(fresh))
}

// flakyStore fails the first SetProfile.
type flakyStore struct {
	*mem.Store
	failed atomic.Bool
}

func (s *flakyStore) SetProfile(ctx context.Context, user core.UserID, patch core.ProfilePatch) error {
	if s.failed.CompareAndSwap(false, true) {
		return errors.New("disk full")
	}
	return s.Store.SetProfile(ctx, user, patch)
}

func TestFailedSaveKeepsCooldownOpen(t *testing.T) {
	store := &flakyStore{Store: mem.New()}
	svc := NewService(store, NewEventBus(DispatchSync), Options{Roller: minRoller{}})
	t.Cleanup(svc.Close)
	ctx := context.Background()

	assert.Nil(t, svc.Award(ctx, "u1", core.ActivityMessage, "g1"))
	_, found, _ := store.GetProfile(ctx, "u1")
	require.False(t, found)

	svc.Award(ctx, "u1", core.ActivityMessage, "g1")
	p, found, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found, "retry after a failed write is not rate limited")
	assert.Equal(t, int64(5), p.XP)

	svc.Award(ctx, "u1", core.ActivityMessage, "g1")
	p, _, _ = store.GetProfile(ctx, "u1")
	assert.Equal(t, int64(5), p.XP, "successful award starts the window")
}

func TestUserLocksReleaseEntries(t *testing.T) {
	var l userLocks
	var wg sync.WaitGroup
	users := []core.UserID{"a", "b", "c"}
	counts := make([]int, len(users))
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := l.lock(users[i])
			defer unlock()
			counts[i]++
		}(i % len(users))
	}
	wg.Wait()
	assert.Equal(t, []int{20, 20, 20}, counts)
	assert.Zero(t, l.size())
}
