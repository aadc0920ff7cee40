package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuleSource struct {
	rule       Rule
	ruleErr    error
	counts     map[int64]int
	countsErr  error
	countsFrom time.Time
	countsTo   time.Time
}

func (f *fakeRuleSource) GetRule(_ context.Context, _ string) (Rule, error) {
	return f.rule, f.ruleErr
}

func (f *fakeRuleSource) BookedCounts(_ context.Context, _ string, from, to time.Time) (map[int64]int, error) {
	f.countsFrom = from
	f.countsTo = to
	return f.counts, f.countsErr
}

func TestAvailableWindows_NoRuleFallsBackToEmpty(t *testing.T) {
	repo := &fakeRuleSource{ruleErr: ErrNoRule}
	svc := NewService(repo).WithClock(func() time.Time {
		return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	})

	windows, err := svc.AvailableWindows(context.Background(), "sup-1", 0)
	require.NoError(t, err)
	assert.Empty(t, windows.Days)
	assert.False(t, windows.SameDayAvailable)
}

func TestAvailableWindows_PropagatesRepositoryFailure(t *testing.T) {
	boom := errors.New("boom")
	repo := &fakeRuleSource{ruleErr: boom}
	svc := NewService(repo)

	_, err := svc.AvailableWindows(context.Background(), "sup-1", 0)
	require.ErrorIs(t, err, boom)
}

func TestAvailableWindows_RejectsBogusOffset(t *testing.T) {
	svc := NewService(&fakeRuleSource{})

	_, err := svc.AvailableWindows(context.Background(), "sup-1", 15*60)
	require.ErrorIs(t, err, ErrBadTimezoneOffset)

	_, err = svc.AvailableWindows(context.Background(), "sup-1", -13*60)
	require.ErrorIs(t, err, ErrBadTimezoneOffset)
}

func TestAvailableWindows_ReportsSameDayState(t *testing.T) {
	repo := &fakeRuleSource{rule: baseRule()}
	svc := NewService(repo).WithClock(func() time.Time {
		return time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)
	})

	windows, err := svc.AvailableWindows(context.Background(), "sup-1", 0)
	require.NoError(t, err)
	assert.True(t, windows.SameDayAvailable)
	assert.Equal(t, 14*60, windows.CutoffMinute)
	require.NotEmpty(t, windows.Days)
	assert.Equal(t, "2024-03-04", windows.Days[0].Date)

	// Same instant viewed from UTC+3 is past the cutoff.
	windows, err = svc.AvailableWindows(context.Background(), "sup-1", 3*60)
	require.NoError(t, err)
	assert.False(t, windows.SameDayAvailable)
	require.NotEmpty(t, windows.Days)
	assert.Equal(t, "2024-03-05", windows.Days[0].Date)
}

func TestAvailableWindows_QueriesBookingLoadAcrossHorizon(t *testing.T) {
	rule := baseRule()
	rule.HorizonDays = 4
	repo := &fakeRuleSource{rule: rule}
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	svc := NewService(repo).WithClock(func() time.Time { return now })

	_, err := svc.AvailableWindows(context.Background(), "sup-1", 0)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -1), repo.countsFrom)
	assert.Equal(t, now.AddDate(0, 0, 5), repo.countsTo)
}
