package availability

import "time"

const (
	defaultHorizonDays = 7

	// Offsets beyond UTC+14/-12 do not exist; anything outside is a client bug.
	maxTZOffsetMinutes = 14 * 60
	minTZOffsetMinutes = -12 * 60
)

// ComputeDays tiles the supplier's daily operating hours into fixed-duration
// slots over the rule's horizon, starting from the buyer-local day of ref.
//
// Operating hours are anchored to UTC calendar days, so a slot's absolute
// instant is the same for every caller. The timezone offset only decides
// which calendar day counts as "today" for the same-day cutoff; it never
// shifts the instant of a slot, which keeps buyers in different zones booking
// into the same physical buckets. Slots whose start precedes ref plus the
// rule's lead time are dropped, so the result never contains a slot in the
// past; a day left with no slots is dropped with it. Buckets already booked
// to the rule's capacity are kept in the output with Available=false.
func ComputeDays(rule Rule, ref time.Time, tzOffsetMin int, booked map[int64]int) []Day {
	if rule.SlotMinutes <= 0 || rule.CloseMinute <= rule.OpenMinute || len(rule.OpenWeekdays) == 0 {
		return nil
	}

	horizon := rule.HorizonDays
	if horizon <= 0 {
		horizon = defaultHorizonDays
	}

	offset := time.Duration(tzOffsetMin) * time.Minute
	local := ref.UTC().Add(offset)
	localMidnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	startDay := 0
	if !sameDayOpen(local, rule.CutoffMinute) {
		startDay = 1
	}

	earliest := ref.Add(time.Duration(rule.LeadTimeHours) * time.Hour)
	if earliest.Before(ref) {
		earliest = ref
	}

	days := make([]Day, 0, horizon)
	for d := startDay; d < startDay+horizon; d++ {
		dayMidnight := localMidnight.AddDate(0, 0, d)
		if !weekdayOpen(rule, dayMidnight.Weekday()) {
			continue
		}
		date := dayMidnight.Format("2006-01-02")
		if blackedOut(rule, date) {
			continue
		}

		day := Day{Date: date, Slots: []Slot{}}
		for m := rule.OpenMinute; m+rule.SlotMinutes <= rule.CloseMinute; m += rule.SlotMinutes {
			start := dayMidnight.Add(time.Duration(m) * time.Minute)
			if start.Before(earliest) {
				continue
			}
			end := start.Add(time.Duration(rule.SlotMinutes) * time.Minute)
			day.Slots = append(day.Slots, Slot{
				Start:     start,
				End:       end,
				Available: hasCapacity(rule, booked, start),
			})
		}
		if len(day.Slots) == 0 {
			continue
		}
		days = append(days, day)
	}

	return days
}

func sameDayOpen(local time.Time, cutoffMinute int) bool {
	if cutoffMinute <= 0 {
		return false
	}
	minuteOfDay := local.Hour()*60 + local.Minute()
	return minuteOfDay < cutoffMinute
}

func weekdayOpen(rule Rule, wd time.Weekday) bool {
	for _, open := range rule.OpenWeekdays {
		if open == wd {
			return true
		}
	}
	return false
}

func blackedOut(rule Rule, date string) bool {
	for _, b := range rule.Blackouts {
		if b == date {
			return true
		}
	}
	return false
}

func hasCapacity(rule Rule, booked map[int64]int, start time.Time) bool {
	if rule.SlotCapacity <= 0 {
		return true
	}
	return booked[start.Unix()] < rule.SlotCapacity
}
