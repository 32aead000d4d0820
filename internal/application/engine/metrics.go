package engine

import (
	"context"
	"time"

	"github.com/lyutobor/OneuiBot-sub000/internal/domain/achievement"
	"github.com/lyutobor/OneuiBot-sub000/pkg/timeutil"
)

// Streak is the raw daily-bonus streak as stored by the bonus feature.
type Streak struct {
	Length       int
	LastActivity time.Time
}

// StateReader is the read-only boundary to the game's own subsystems
// (progression, wallet, bank, inventory, businesses, families). Every
// method is one query.
type StateReader interface {
	OneUIVersion(ctx context.Context, userID int64) (float64, error)
	Balance(ctx context.Context, userID int64) (float64, error)
	BankBalance(ctx context.Context, userID int64) (float64, error)
	DailyStreak(ctx context.Context, userID int64) (Streak, error)
	PhoneModels(ctx context.Context, userID int64, activeOnly bool) ([]string, error)
	BusinessCount(ctx context.Context, userID int64) (int64, error)
	BusinessIncomeTotal(ctx context.Context, userID int64) (float64, error)
	FamilySize(ctx context.Context, userID int64, leaderOnly bool) (int64, error)
}

// StandardMetrics registers every catalog metric against reader. Streaks
// count only while the last activity is today or yesterday in loc.
func StandardMetrics(reader StateReader, clock timeutil.Clock, loc *time.Location) *MetricSource {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if loc == nil {
		loc = timeutil.MoscowTZ
	}

	number := func(fn func(ctx context.Context, userID int64) (float64, error)) FetchFunc {
		return func(ctx context.Context, userID, _ int64) (achievement.MetricValue, error) {
			v, err := fn(ctx, userID)
			if err != nil {
				return achievement.MetricValue{}, err
			}
			return achievement.NumberValue(v), nil
		}
	}
	count := func(fn func(ctx context.Context, userID int64) (int64, error)) FetchFunc {
		return func(ctx context.Context, userID, _ int64) (achievement.MetricValue, error) {
			v, err := fn(ctx, userID)
			if err != nil {
				return achievement.MetricValue{}, err
			}
			return achievement.NumberValue(float64(v)), nil
		}
	}
	phones := func(activeOnly bool) FetchFunc {
		return func(ctx context.Context, userID, _ int64) (achievement.MetricValue, error) {
			models, err := reader.PhoneModels(ctx, userID, activeOnly)
			if err != nil {
				return achievement.MetricValue{}, err
			}
			return achievement.SetValue(models), nil
		}
	}
	family := func(leaderOnly bool) FetchFunc {
		return count(func(ctx context.Context, userID int64) (int64, error) {
			return reader.FamilySize(ctx, userID, leaderOnly)
		})
	}

	return NewMetricSource().
		Register(achievement.MetricOneUIVersion, number(reader.OneUIVersion)).
		Register(achievement.MetricBalance, number(reader.Balance)).
		Register(achievement.MetricBankBalance, number(reader.BankBalance)).
		Register(achievement.MetricDailyStreak, func(ctx context.Context, userID, _ int64) (achievement.MetricValue, error) {
			s, err := reader.DailyStreak(ctx, userID)
			if err != nil {
				return achievement.MetricValue{}, err
			}
			if !timeutil.StreakAlive(s.LastActivity, clock.Now(), loc) {
				return achievement.NumberValue(0), nil
			}
			return achievement.NumberValue(float64(s.Length)), nil
		}).
		Register(achievement.MetricPhonesActive, phones(true)).
		Register(achievement.MetricPhonesAllTime, phones(false)).
		RegisterDerived(achievement.MetricPhoneCount, func(ctx context.Context, a *PassAccessor) (achievement.MetricValue, error) {
			set, err := a.Set(ctx, achievement.MetricPhonesActive)
			if err != nil {
				return achievement.MetricValue{}, err
			}
			return achievement.NumberValue(float64(len(set))), nil
		}).
		Register(achievement.MetricBusinessCount, count(reader.BusinessCount)).
		Register(achievement.MetricBusinessIncomeTotal, number(reader.BusinessIncomeTotal)).
		Register(achievement.MetricFamilySizeLed, family(true)).
		Register(achievement.MetricFamilySize, family(false))
}
