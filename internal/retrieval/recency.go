package retrieval

import (
	"fmt"
	"time"
)

// DescribeRecency converts elapsed time into the descriptor used for
// natural phrasing ("earlier today") instead of raw timestamps.
func DescribeRecency(now, then time.Time) string {
	if then.IsZero() || then.After(now) {
		return "just now"
	}
	elapsed := now.Sub(then)

	switch {
	case elapsed < time.Hour:
		return "just now"
	case elapsed < 24*time.Hour:
		return "earlier today"
	case elapsed < 48*time.Hour:
		return "yesterday"
	case elapsed < 30*24*time.Hour:
		days := int(elapsed.Hours() / 24)
		return fmt.Sprintf("%d days ago", days)
	case elapsed < 60*24*time.Hour:
		return "about a month ago"
	default:
		return "a while back"
	}
}
