package recommend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/farmdash/internal/entities"
)

var now = time.Date(2025, 6, 4, 15, 30, 0, 0, time.UTC)

func TestUrgencyFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		confidence float64
		want       Urgency
	}{
		{1.0, UrgencyHigh},
		{0.85, UrgencyHigh},
		{0.849, UrgencyMedium},
		{0.6, UrgencyMedium},
		{0.599, UrgencyLow},
		{0, UrgencyLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UrgencyFor(tt.confidence), "confidence %v", tt.confidence)
	}
}

func TestCondition(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Tomato Late Blight", Condition("Tomato___Late_blight"))
	assert.Equal(t, "Corn Common Rust", Condition("corn__common_rust"))
	assert.Equal(t, "Unknown condition", Condition(" _ "))
}

func TestRecommendHealthy(t *testing.T) {
	t.Parallel()

	d := entities.Diagnosis{ID: "d1", CropID: "c1", PredictedClass: "Tomato___healthy", Confidence: 0.99}
	rec := NewRuleBased().Recommend(d, now)

	assert.True(t, rec.Healthy)
	assert.Equal(t, UrgencyNone, rec.Urgency)
	assert.Empty(t, rec.Steps)
	assert.NotEmpty(t, rec.Actions)
	assert.Equal(t, entities.ID("d1"), rec.DiagnosisID)
	assert.Equal(t, now, rec.GeneratedAt)
}

func TestRecommendHighUrgencyPlan(t *testing.T) {
	t.Parallel()

	d := entities.Diagnosis{
		ID:                "d2",
		PredictedClass:    "Tomato___Late_blight",
		Confidence:        0.93,
		DiseaseDetected:   true,
		RequiresTreatment: true,
	}
	rec := RuleBased{}.Recommend(d, now)

	assert.False(t, rec.Healthy)
	assert.Equal(t, UrgencyHigh, rec.Urgency)
	assert.Contains(t, rec.Summary, "93%")
	require.Len(t, rec.Steps, 4)

	today := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, today, rec.Steps[0].ScheduledDate)
	assert.Equal(t, today.AddDate(0, 0, 1), rec.Steps[2].ScheduledDate)
	assert.Equal(t, today.AddDate(0, 0, 7), rec.Steps[3].ScheduledDate)
	for _, s := range rec.Steps {
		assert.Equal(t, entities.StatusPending, s.Status)
		assert.True(t, s.HasReminder)
		assert.NotContains(t, s.Description, "%s")
	}
	assert.Contains(t, rec.Steps[1].Description, "Tomato Late Blight")
}

func TestRecommendLowConfidenceAsksForRecheck(t *testing.T) {
	t.Parallel()

	d := entities.Diagnosis{PredictedClass: "Potato___Early_blight", Confidence: 0.41, DiseaseDetected: true}
	rec := RuleBased{}.Recommend(d, now)

	assert.Equal(t, UrgencyLow, rec.Urgency)
	require.Len(t, rec.Steps, 2)
	assert.Equal(t, "Recheck photo", rec.Steps[1].Name)
	assert.False(t, rec.Steps[0].HasReminder)
}

func TestRecommendIsDeterministic(t *testing.T) {
	t.Parallel()

	d := entities.Diagnosis{PredictedClass: "Grape___Black_rot", Confidence: 0.7, DiseaseDetected: true}
	var r Recommender = NewRuleBased()
	assert.Equal(t, r.Recommend(d, now), r.Recommend(d, now))
}
