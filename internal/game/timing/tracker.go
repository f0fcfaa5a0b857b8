package timing

import "time"

// DefaultTimeoutThreshold is the number of recorded timeouts after which
// a player is eligible for forfeit.
const DefaultTimeoutThreshold = 3

// Config holds the per-match timeout policy. It is attached once at
// match start and constant thereafter unless explicitly reconfigured.
type Config struct {
	PerActionMs       int64 `json:"per_action_ms"`
	TotalMatchMs      int64 `json:"total_match_ms"`
	AutoPassOnTimeout bool  `json:"auto_pass_on_timeout"`
	WarningAtMs       int64 `json:"warning_at_ms"`
}

// Enabled reports whether any per-action clock is configured.
func (c Config) Enabled() bool {
	return c.PerActionMs > 0
}

// ActionExpiry computes the deadline for a window opened at the given
// instant, or nil when no per-action clock is configured.
func (c Config) ActionExpiry(openedAt time.Time) *time.Time {
	if !c.Enabled() {
		return nil
	}
	t := openedAt.Add(time.Duration(c.PerActionMs) * time.Millisecond)
	return &t
}

// Status is the result of a timeout check. Timeout detection is lazy:
// callers evaluate it against the current time whenever a client polls
// or acts, rather than running an internal timer.
type Status struct {
	ActionTimedOut        bool  `json:"action_timed_out"`
	ActionTimeRemainingMs int64 `json:"action_time_remaining_ms"`
	Warning               bool  `json:"warning"`
	MatchTimeRemainingMs  int64 `json:"match_time_remaining_ms"`
	MatchTimedOut         bool  `json:"match_timed_out"`
}

// Record notes a single timeout occurrence for a player.
type Record struct {
	PlayerID  string    `json:"player_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckStatus evaluates per-action and per-match clocks at the given
// instant. expiresAt is the open response window's deadline (nil when no
// window is open or no deadline applies); matchStart is the instant the
// match timer was initialized (nil when no match timer runs).
func CheckStatus(now time.Time, expiresAt *time.Time, matchStart *time.Time, cfg Config) Status {
	var status Status

	if expiresAt != nil {
		remaining := expiresAt.Sub(now).Milliseconds()
		if remaining <= 0 {
			status.ActionTimedOut = true
			status.ActionTimeRemainingMs = 0
		} else {
			status.ActionTimeRemainingMs = remaining
			if cfg.WarningAtMs > 0 && remaining <= cfg.WarningAtMs {
				status.Warning = true
			}
		}
	}

	if matchStart != nil && cfg.TotalMatchMs > 0 {
		elapsed := now.Sub(*matchStart).Milliseconds()
		remaining := cfg.TotalMatchMs - elapsed
		if remaining <= 0 {
			status.MatchTimedOut = true
			status.MatchTimeRemainingMs = 0
		} else {
			status.MatchTimeRemainingMs = remaining
		}
	}

	return status
}

// CountForPlayer returns how many timeouts have been recorded against a player.
func CountForPlayer(records []Record, playerID string) int {
	count := 0
	for _, r := range records {
		if r.PlayerID == playerID {
			count++
		}
	}
	return count
}

// ExceededThreshold reports whether a player has accumulated at least
// threshold timeouts. A non-positive threshold falls back to the default.
func ExceededThreshold(records []Record, playerID string, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultTimeoutThreshold
	}
	return CountForPlayer(records, playerID) >= threshold
}
