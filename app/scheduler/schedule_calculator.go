// Package scheduler contains the day-plan calculator and the background
// timer that fires due campaigns.
package scheduler

import (
	"errors"
	"math/rand"
	"time"

	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/utils"
)

var (
	// ErrInvalidDailyPercent indicates a daily percentage outside (0, 100]
	ErrInvalidDailyPercent = errors.New("daily percent must be between 1 and 100")

	// ErrInvalidScheduleMode indicates an unknown plan mode
	ErrInvalidScheduleMode = errors.New("unknown schedule mode")
)

// BuildPlan splits a campaign's recipient list into per-day slices.
//
// Progressive mode warms the channel up: day n sends up to n times the
// base amount (base = ceil(total * percent / 100)), so volume ramps
// instead of jumping to full rate. Fixed mode sends the base amount
// every day. Either way the slice bounds tile the ordered recipient
// list exactly once, with StartIndex inclusive and EndIndex exclusive.
//
// The first day fires at start itself. Later days fire on consecutive
// calendar days, either at start's clock time or at a random time inside
// the send window, per timeMode.
func BuildPlan(total int, mode models.ScheduleMode, dailyPercent int, start time.Time, timeMode models.SendTimeMode, rnd *rand.Rand) ([]*models.ScheduleDay, error) {
	if dailyPercent <= 0 || dailyPercent > 100 {
		return nil, ErrInvalidDailyPercent
	}
	if !mode.Valid() {
		return nil, ErrInvalidScheduleMode
	}
	if total <= 0 {
		return []*models.ScheduleDay{}, nil
	}

	base := (total*dailyPercent + 99) / 100
	start = start.UTC()

	var plan []*models.ScheduleDay
	cumulative := 0
	for day := 1; cumulative < total; day++ {
		count := base
		if mode == models.ScheduleModeProgressive {
			count = base * day
		}
		if count > total-cumulative {
			count = total - cumulative
		}

		date := utils.StartOfDay(start.AddDate(0, 0, day-1))
		plan = append(plan, &models.ScheduleDay{
			Day:        day,
			Date:       date,
			SendAt:     sendTimeFor(day, date, start, timeMode, rnd),
			Count:      count,
			Percent:    float64(count) / float64(total) * 100,
			StartIndex: cumulative,
			EndIndex:   cumulative + count,
			TotalSent:  cumulative + count,
			Remaining:  total - cumulative - count,
			Status:     models.ScheduleDayStatusPending,
		})
		cumulative += count
	}

	return plan, nil
}

// sendTimeFor picks the dispatch instant for one plan day
func sendTimeFor(day int, date, start time.Time, timeMode models.SendTimeMode, rnd *rand.Rand) time.Time {
	if day == 1 {
		return start
	}
	if timeMode == models.SendTimeModeRandom && rnd != nil {
		offset := time.Duration(rnd.Intn(utils.RandomSendWindowSpanHours*60)) * time.Minute
		return date.Add(time.Duration(utils.RandomSendWindowStartHour)*time.Hour + offset)
	}
	return date.Add(time.Duration(start.Hour())*time.Hour +
		time.Duration(start.Minute())*time.Minute +
		time.Duration(start.Second())*time.Second)
}
