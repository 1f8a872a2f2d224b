// Package recommend turns a diagnosis into treatment advice and a proposed
// step plan. Implementations must be pure: the same diagnosis and clock value
// always produce the same recommendation.
package recommend

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/farmdash/internal/entities"
)

// Urgency ranks how soon a farmer should act on a diagnosis.
type Urgency string

const (
	UrgencyNone   Urgency = "none"
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Confidence thresholds for disease urgency.
const (
	HighConfidence   = 0.85
	MediumConfidence = 0.6
)

// Recommendation is advice for one diagnosis.
type Recommendation struct {
	DiagnosisID entities.ID              `json:"diagnosisId"`
	CropID      entities.ID              `json:"cropId,omitempty"`
	Condition   string                   `json:"condition"`
	Healthy     bool                     `json:"healthy"`
	Urgency     Urgency                  `json:"urgency"`
	Summary     string                   `json:"summary"`
	Actions     []string                 `json:"actions"`
	Steps       []entities.TreatmentStep `json:"steps,omitempty"`
	GeneratedAt time.Time                `json:"generatedAt"`
}

// Recommender produces a Recommendation for a diagnosis.
type Recommender interface {
	Recommend(d entities.Diagnosis, now time.Time) Recommendation
}

// RuleBased is the default Recommender. It uses only the diagnosis fields.
type RuleBased struct{}

// NewRuleBased returns the default recommender.
func NewRuleBased() RuleBased {
	return RuleBased{}
}

type plannedStep struct {
	name        string
	description string
	afterDays   int
}

var plans = map[Urgency][]plannedStep{
	UrgencyHigh: {
		{"Inspect affected plants", "Walk the field and mark every plant showing symptoms of %s.", 0},
		{"Isolate infected plants", "Remove or isolate heavily infected plants to stop %s spreading.", 0},
		{"Apply treatment", "Apply the recommended control product for %s to the affected area.", 1},
		{"Follow-up photo", "Take a new photo of the treated plants and submit it for diagnosis.", 7},
	},
	UrgencyMedium: {
		{"Inspect affected plants", "Check nearby plants for early signs of %s.", 1},
		{"Prune affected leaves", "Prune and dispose of leaves showing %s symptoms.", 2},
		{"Apply treatment", "Apply a preventive treatment against %s.", 3},
		{"Follow-up photo", "Take a new photo of the crop and submit it for diagnosis.", 10},
	},
	UrgencyLow: {
		{"Inspect crop", "Look for symptoms of %s; the detection confidence is low.", 2},
		{"Recheck photo", "Take a clearer, well-lit photo of the leaves and submit it again.", 3},
	},
}

// Recommend implements Recommender.
func (RuleBased) Recommend(d entities.Diagnosis, now time.Time) Recommendation {
	rec := Recommendation{
		DiagnosisID: d.ID,
		CropID:      d.CropID,
		Condition:   Condition(d.PredictedClass),
		GeneratedAt: now,
	}

	if IsHealthy(d) {
		rec.Healthy = true
		rec.Urgency = UrgencyNone
		rec.Summary = "No disease detected. Keep monitoring the crop."
		rec.Actions = []string{
			"Keep the current irrigation and fertilisation schedule",
			"Inspect the crop weekly for new symptoms",
			"Submit a new photo if leaves change colour or shape",
		}
		return rec
	}

	rec.Urgency = UrgencyFor(d.Confidence)
	confidence := int(d.Confidence*100 + 0.5)
	switch rec.Urgency {
	case UrgencyHigh:
		rec.Summary = fmt.Sprintf("%s detected with %d%% confidence. Act today.", rec.Condition, confidence)
	case UrgencyMedium:
		rec.Summary = fmt.Sprintf("%s likely (%d%% confidence). Treat within the next few days.", rec.Condition, confidence)
	default:
		rec.Summary = fmt.Sprintf("Possible %s (%d%% confidence). Recheck before treating.", rec.Condition, confidence)
	}

	day := startOfDay(now)
	for _, p := range plans[rec.Urgency] {
		desc := p.description
		if strings.Contains(desc, "%s") {
			desc = fmt.Sprintf(desc, rec.Condition)
		}
		rec.Actions = append(rec.Actions, p.name)
		rec.Steps = append(rec.Steps, entities.TreatmentStep{
			Name:          p.name,
			Description:   desc,
			ScheduledDate: day.AddDate(0, 0, p.afterDays),
			Status:        entities.StatusPending,
			HasReminder:   rec.Urgency != UrgencyLow,
		})
	}
	return rec
}

// UrgencyFor maps a detection confidence in [0,1] to an urgency.
func UrgencyFor(confidence float64) Urgency {
	switch {
	case confidence >= HighConfidence:
		return UrgencyHigh
	case confidence >= MediumConfidence:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// IsHealthy reports whether a diagnosis found no disease.
func IsHealthy(d entities.Diagnosis) bool {
	if !d.DiseaseDetected {
		return true
	}
	return strings.Contains(strings.ToLower(d.PredictedClass), "healthy") && !d.RequiresTreatment
}

// Condition turns a classifier label such as "Tomato___Late_blight" into
// "Tomato Late Blight".
func Condition(class string) string {
	class = strings.NewReplacer("___", " ", "__", " ", "_", " ").Replace(class)
	class = strings.Join(strings.Fields(class), " ")
	if class == "" {
		return "Unknown condition"
	}
	return cases.Title(language.English).String(class)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
