package availability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBadTimezoneOffset signals a client-supplied offset outside real-world bounds.
var ErrBadTimezoneOffset = errors.New("availability: timezone offset out of range")

// RuleSource abstracts repository operations for the service.
type RuleSource interface {
	GetRule(ctx context.Context, supplierID string) (Rule, error)
	BookedCounts(ctx context.Context, supplierID string, from, to time.Time) (map[int64]int, error)
}

// Service computes the bookable windows a supplier can currently offer.
type Service struct {
	repo RuleSource
	now  func() time.Time
}

func NewService(repo RuleSource) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AvailableWindows loads the supplier's rule plus current booking load and
// derives the offerable slots. A supplier without a rule yields an empty day
// list rather than an error; the caller falls back to negotiable scheduling.
func (s *Service) AvailableWindows(ctx context.Context, supplierID string, tzOffsetMin int) (Windows, error) {
	if supplierID == "" {
		return Windows{}, fmt.Errorf("availability: missing supplier id")
	}
	if tzOffsetMin < minTZOffsetMinutes || tzOffsetMin > maxTZOffsetMinutes {
		return Windows{}, ErrBadTimezoneOffset
	}

	ref := s.now().UTC()

	rule, err := s.repo.GetRule(ctx, supplierID)
	if err != nil {
		if errors.Is(err, ErrNoRule) {
			return Windows{CurrentTime: ref, Days: []Day{}}, nil
		}
		return Windows{}, err
	}

	horizon := rule.HorizonDays
	if horizon <= 0 {
		horizon = defaultHorizonDays
	}
	// One day of slack on each side covers offset skew between the buyer-local
	// horizon and the absolute window_start values held in storage.
	booked, err := s.repo.BookedCounts(ctx, supplierID, ref.AddDate(0, 0, -1), ref.AddDate(0, 0, horizon+1))
	if err != nil {
		return Windows{}, err
	}

	offset := time.Duration(tzOffsetMin) * time.Minute
	return Windows{
		CutoffMinute:     rule.CutoffMinute,
		CurrentTime:      ref,
		SameDayAvailable: sameDayOpen(ref.Add(offset), rule.CutoffMinute),
		Days:             ComputeDays(rule, ref, tzOffsetMin, booked),
	}, nil
}
