package app

import (
	"context"
	"math"
	"time"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
)

// Ceilings holds the configured rate ceilings. Zero or negative means the
// window is unlimited.
type Ceilings struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

const unlimitedAllowance = math.MaxInt

// remainingAllowance computes how many sends are still permitted right now.
// Each ceiling is a sliding window: attempts with sent_at inside
// (now-window, now] count against it. Returns the allowance and the name of
// the tightest window ("minute", "hour", "day", or "" when unlimited).
func remainingAllowance(ctx context.Context, repo domain.EmailRepository, c Ceilings, now time.Time) (int, string, error) {
	allowance := unlimitedAllowance
	window := ""

	check := func(ceiling int, span time.Duration, name string) error {
		if ceiling <= 0 {
			return nil
		}
		count, err := repo.CountAttemptedSince(ctx, now.Add(-span))
		if err != nil {
			return err
		}
		remaining := ceiling - count
		if remaining < 0 {
			remaining = 0
		}
		if remaining < allowance {
			allowance = remaining
			window = name
		}
		return nil
	}

	if err := check(c.PerMinute, time.Minute, "minute"); err != nil {
		return 0, "", err
	}
	if err := check(c.PerHour, time.Hour, "hour"); err != nil {
		return 0, "", err
	}
	if err := check(c.PerDay, 24*time.Hour, "day"); err != nil {
		return 0, "", err
	}

	return allowance, window, nil
}
