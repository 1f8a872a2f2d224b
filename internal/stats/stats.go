// Package stats computes the derived statistics of the entity store.
//
// Every function here is a pure function of its input list and the supplied
// clock value: calling it twice on the same list yields the same result, and an
// empty list yields a zeroed value with non-nil maps.
package stats

import (
	"math"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/farmdash/internal/entities"
)

const (
	msPerDay = 86_400_000

	// OverdueAfterDays is how long a PENDING treatment may wait before it counts as overdue.
	OverdueAfterDays = 7
)

// DaysSince returns the whole days elapsed from t to now, rounded up.
func DaysSince(t, now time.Time) int {
	return int(math.Ceil(float64(now.Sub(t).Milliseconds()) / msPerDay))
}

// DaysUntil returns the whole days from now until t, rounded up.
func DaysUntil(t, now time.Time) int {
	return DaysSince(now, t)
}

// Progress returns round(completed / activities × 100), or 0 when activities is not positive.
func Progress(completed, activities int) int {
	if activities <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(activities) * 100))
}

// StartOfWeek returns local midnight of the Sunday that starts now's week.
func StartOfWeek(now time.Time) time.Time {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return midnight.AddDate(0, 0, -int(now.Weekday()))
}

// Diagnoses computes DiagnosisStats in a single pass.
func Diagnoses(list []entities.Diagnosis, now time.Time) entities.DiagnosisStats {
	var s entities.DiagnosisStats
	year, month, _ := now.Date()
	weekStart := StartOfWeek(now)
	weekEnd := weekStart.AddDate(0, 0, 7)

	for i := range list {
		d := &list[i]
		s.Total++

		created := d.CreatedAt.In(now.Location())
		if cy, cm, _ := created.Date(); cy == year && cm == month {
			s.ThisMonth++
		}
		if !created.Before(weekStart) && created.Before(weekEnd) {
			s.ThisWeek++
		}
		if d.DiseaseDetected {
			s.DiseaseDetected++
		}
		if d.RequiresTreatment {
			s.RequiresTreatment++
		}
	}

	s.HealthyCrops = s.Total - s.DiseaseDetected
	return s
}

// Treatments computes TreatmentStats in a single pass.
func Treatments(list []entities.Treatment, now time.Time) entities.TreatmentStats {
	var s entities.TreatmentStats
	progressSum := 0

	for i := range list {
		t := &list[i]
		s.Total++
		progressSum += t.ProgressPercentage

		switch {
		case t.HasStatus(entities.StatusPending):
			s.Pending++
			if !t.DiagnosisDate.IsZero() && DaysSince(t.DiagnosisDate, now) > OverdueAfterDays {
				s.Overdue++
			}
		case t.HasStatus(entities.StatusInProgress):
			s.InProgress++
		case t.HasStatus(entities.StatusCompleted):
			s.Completed++
		}
	}

	if s.Total > 0 {
		s.AverageProgress = int(math.Round(float64(progressSum) / float64(s.Total)))
	}
	return s
}

// Notifications computes NotificationStats; histogram keys are upper-cased.
func Notifications(list []entities.Notification) entities.NotificationStats {
	s := entities.NotificationStats{
		ByType:    make(map[string]int),
		ByChannel: make(map[string]int),
	}
	upper := cases.Upper(language.Und)

	for i := range list {
		n := &list[i]
		s.Total++
		if !n.IsRead() {
			s.Unread++
		}
		s.ByType[upper.String(n.NotificationType)]++
		s.ByChannel[upper.String(n.NotificationChannel)]++
	}
	return s
}

// RecomputeTreatment re-derives the activity counters and progress of t.
// When steps are known they are the source of the counters; otherwise the
// counters already on t are kept and only the progress is recomputed.
func RecomputeTreatment(t entities.Treatment, steps []entities.TreatmentStep) entities.Treatment {
	if len(steps) > 0 {
		completed := 0
		for i := range steps {
			if steps[i].IsCompleted() {
				completed++
			}
		}
		t.ActivitiesCount = len(steps)
		t.CompletedActivitiesCount = completed
		t.PendingActivitiesCount = len(steps) - completed

		switch {
		case completed == len(steps):
			t.Status = entities.StatusCompleted
		case completed > 0 && t.HasStatus(entities.StatusPending):
			t.Status = entities.StatusInProgress
		}
	}

	t.ProgressPercentage = Progress(t.CompletedActivitiesCount, t.ActivitiesCount)
	return t
}
