package availability

import "time"

// Rule mirrors the availability_rules row for one supplier. Minute fields are
// minutes from local midnight so a rule is independent of any particular date.
type Rule struct {
	SupplierID    string
	OpenWeekdays  []time.Weekday
	OpenMinute    int
	CloseMinute   int
	CutoffMinute  int
	LeadTimeHours int
	SlotMinutes   int
	SlotCapacity  int
	HorizonDays   int
	Blackouts     []string // buyer-local dates, YYYY-MM-DD
}

// Slot is one bookable bucket of a day's operating hours. Start and End are
// absolute instants; Available reflects remaining booking capacity.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// Day groups the slots that fall on one buyer-local calendar date.
type Day struct {
	Date  string // YYYY-MM-DD
	Slots []Slot
}

// Windows is the full payload returned to callers of AvailableWindows.
type Windows struct {
	CutoffMinute     int
	CurrentTime      time.Time
	SameDayAvailable bool
	Days             []Day
}
