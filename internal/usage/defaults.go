package usage

import "time"

const (
	defaultPlan  = "Starter"
	defaultLimit = 20
	windowLength = 7 * 24 * time.Hour
)

func defaultUsage(limit int) Usage {
	if limit <= 0 {
		limit = defaultLimit
	}
	return Usage{
		Plan:     defaultPlan,
		Limit:    limit,
		Used:     0,
		ResetsAt: time.Now().UTC().Add(windowLength),
	}
}
