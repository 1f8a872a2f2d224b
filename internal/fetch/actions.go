package fetch

import (
	"context"
	"io"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/recommend"
	"github.com/tphakala/farmdash/internal/store"
)

// Action names used in metrics and logs.
const (
	ActionCreateCrop       = "create_crop"
	ActionUpdateCrop       = "update_crop"
	ActionDeleteCrop       = "delete_crop"
	ActionSubmitDiagnosis  = "submit_diagnosis"
	ActionCreateTreatment  = "create_treatment"
	ActionCompleteStep     = "complete_step"
	ActionMarkRead         = "mark_notification_read"
	ActionMarkAllRead      = "mark_all_notifications_read"
	markAllReadConcurrency = 4
)

// Submission is the result of a diagnosis upload.
type Submission struct {
	Diagnosis      entities.Diagnosis       `json:"diagnosis"`
	Recommendation recommend.Recommendation `json:"recommendation"`
}

// action wraps a mutating call with session resolution, forced logout on
// rejected sessions and metrics.
func (f *Fetcher) action(ctx context.Context, name string, fn func(farmerID string) error) error {
	sess, err := f.session(ctx)
	if err != nil {
		f.recordAction(name, err)
		return err
	}
	err = fn(sess.FarmerID())
	if err != nil && backend.IsUnauthorized(err) {
		err = f.forceLogout(ctx, err)
	}
	f.recordAction(name, err)
	if err != nil {
		f.logger.Warn("action failed", "action", name, "error", err)
	}
	return err
}

// CreateCrop registers a crop and adds it to the store.
func (f *Fetcher) CreateCrop(ctx context.Context, crop entities.Crop) (*entities.Crop, error) {
	if crop.CropName == "" {
		return nil, errors.ValidationError("crop name is required")
	}
	var out *entities.Crop
	err := f.action(ctx, ActionCreateCrop, func(farmerID string) error {
		if usage := f.store.Usage(); usage != nil && !usage.CanAddCrop {
			return limitError("crop", usage)
		}
		if crop.FarmerID == "" {
			crop.FarmerID = entities.ID(farmerID)
		}
		created, err := f.services.User.CreateCrop(ctx, crop)
		if err != nil {
			return err
		}
		f.store.AddCrop(*created)
		out = created
		return nil
	})
	return out, err
}

// UpdateCrop replaces a crop.
func (f *Fetcher) UpdateCrop(ctx context.Context, crop entities.Crop) (*entities.Crop, error) {
	if crop.ID == "" {
		return nil, errors.ValidationError("crop id is required")
	}
	var out *entities.Crop
	err := f.action(ctx, ActionUpdateCrop, func(string) error {
		updated, err := f.services.User.UpdateCrop(ctx, crop)
		if err != nil {
			return err
		}
		if err := f.store.UpdateCrop(*updated); errors.Is(err, store.ErrNotFound) {
			f.store.AddCrop(*updated)
		}
		out = updated
		return nil
	})
	return out, err
}

// DeleteCrop deletes a crop.
func (f *Fetcher) DeleteCrop(ctx context.Context, id string) error {
	if id == "" {
		return errors.ValidationError("crop id is required")
	}
	return f.action(ctx, ActionDeleteCrop, func(string) error {
		if err := f.services.User.DeleteCrop(ctx, id); err != nil {
			return err
		}
		_ = f.store.RemoveCrop(id)
		return nil
	})
}

// SubmitDiagnosis uploads a crop photo, stores the resulting diagnosis and
// returns it with a recommendation.
func (f *Fetcher) SubmitDiagnosis(ctx context.Context, cropID, fileName string, image io.Reader) (*Submission, error) {
	if cropID == "" {
		return nil, errors.ValidationError("crop id is required")
	}
	if image == nil {
		return nil, errors.ValidationError("image is required")
	}
	var out *Submission
	err := f.action(ctx, ActionSubmitDiagnosis, func(farmerID string) error {
		if usage := f.store.Usage(); usage != nil && !usage.CanDiagnose {
			return limitError("diagnosis", usage)
		}
		d, err := f.services.Detection.Diagnose(ctx, cropID, farmerID, fileName, image)
		if err != nil {
			return err
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = f.now()
		}
		f.store.AddDiagnosis(*d)
		out = &Submission{
			Diagnosis:      *d,
			Recommendation: f.recommender.Recommend(*d, f.now()),
		}
		f.logger.Info("diagnosis submitted",
			"diagnosis_id", d.ID,
			"crop_id", cropID,
			"predicted_class", d.PredictedClass,
			"urgency", out.Recommendation.Urgency)
		return nil
	})
	return out, err
}

// Recommendation returns advice for a stored diagnosis, loading it from the
// detection service when it is not cached.
func (f *Fetcher) Recommendation(ctx context.Context, diagnosisID string) (*recommend.Recommendation, error) {
	d, err := f.diagnosis(ctx, diagnosisID)
	if err != nil {
		return nil, err
	}
	rec := f.recommender.Recommend(d, f.now())
	return &rec, nil
}

func (f *Fetcher) diagnosis(ctx context.Context, id string) (entities.Diagnosis, error) {
	if id == "" {
		return entities.Diagnosis{}, errors.ValidationError("diagnosis id is required")
	}
	if d, ok := f.store.Diagnosis(id); ok {
		return d, nil
	}
	if _, err := f.session(ctx); err != nil {
		return entities.Diagnosis{}, err
	}
	d, err := f.services.Detection.GetDiagnosis(ctx, id)
	if err != nil {
		if backend.IsUnauthorized(err) {
			return entities.Diagnosis{}, f.forceLogout(ctx, err)
		}
		return entities.Diagnosis{}, err
	}
	return *d, nil
}

// CreateTreatment starts a treatment for a diagnosis, seeded with the
// recommended step plan.
func (f *Fetcher) CreateTreatment(ctx context.Context, diagnosisID string) (*entities.Treatment, error) {
	d, err := f.diagnosis(ctx, diagnosisID)
	if err != nil {
		return nil, err
	}
	rec := f.recommender.Recommend(d, f.now())
	if rec.Healthy && !d.RequiresTreatment {
		return nil, errors.Newf("diagnosis %s does not require treatment", diagnosisID).
			Component("fetch").
			Category(errors.CategoryValidation).
			Build()
	}

	var out *entities.Treatment
	err = f.action(ctx, ActionCreateTreatment, func(farmerID string) error {
		diagnosisDate := d.CreatedAt
		if diagnosisDate.IsZero() {
			diagnosisDate = f.now()
		}
		created, err := f.services.Treatment.CreateTreatment(ctx, backend.CreateTreatmentRequest{
			DiagnosisID:   d.ID,
			CropID:        d.CropID,
			FarmerID:      entities.ID(farmerID),
			Name:          rec.Condition,
			DiagnosisDate: diagnosisDate,
			Steps:         rec.Steps,
		})
		if err != nil {
			return err
		}
		f.store.AddTreatment(*created)
		t, _ := f.store.Treatment(created.ID.String())
		out = &t
		return nil
	})
	return out, err
}

// CompleteStep marks a treatment step completed. The treatment's counters,
// status and progress are re-derived from its steps and pushed back to the
// treatment service.
func (f *Fetcher) CompleteStep(ctx context.Context, treatmentID, stepID string) (*entities.Treatment, error) {
	if treatmentID == "" || stepID == "" {
		return nil, errors.ValidationError("treatment id and step id are required")
	}
	steps, err := f.Steps(ctx, treatmentID, false)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(steps, func(s entities.TreatmentStep) bool { return s.ID.String() == stepID })
	if i < 0 {
		return nil, errors.Newf("step %s not found in treatment %s", stepID, treatmentID).
			Component("fetch").
			Category(errors.CategoryNotFound).
			Build()
	}

	var out *entities.Treatment
	err = f.action(ctx, ActionCompleteStep, func(string) error {
		step := steps[i]
		if !step.IsCompleted() {
			step.Status = entities.StatusCompleted
			updated, err := f.services.Treatment.UpdateStep(ctx, step)
			if err != nil {
				return err
			}
			if updated.TreatmentID == "" {
				updated.TreatmentID = entities.ID(treatmentID)
			}
			if err := f.store.UpdateStep(*updated); err != nil {
				return err
			}
		}

		t, ok := f.store.Treatment(treatmentID)
		if !ok {
			return nil
		}
		if _, err := f.services.Treatment.UpdateTreatment(ctx, t); err != nil {
			if backend.IsUnauthorized(err) {
				return err
			}
			f.logger.Warn("failed to sync treatment progress",
				"treatment_id", treatmentID,
				"error", err)
		}
		out = &t
		return nil
	})
	return out, err
}

// MarkNotificationRead marks one notification read.
func (f *Fetcher) MarkNotificationRead(ctx context.Context, id string) error {
	if id == "" {
		return errors.ValidationError("notification id is required")
	}
	return f.action(ctx, ActionMarkRead, func(string) error {
		if err := f.services.Notification.MarkRead(ctx, id); err != nil {
			return err
		}
		if err := f.store.MarkNotificationRead(id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})
}

// MarkAllNotificationsRead marks every unread notification read and returns
// how many were changed.
func (f *Fetcher) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	var unread []string
	for _, n := range f.store.Notifications() {
		if !n.IsRead() {
			unread = append(unread, n.ID.String())
		}
	}
	if len(unread) == 0 {
		return 0, nil
	}

	marked := 0
	err := f.action(ctx, ActionMarkAllRead, func(string) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(markAllReadConcurrency)
		for _, id := range unread {
			g.Go(func() error {
				return f.services.Notification.MarkRead(gctx, id)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		marked = f.store.MarkAllNotificationsRead()
		return nil
	})
	return marked, err
}

func limitError(resource string, usage *entities.UsageLimits) error {
	return errors.Newf("%s limit reached for plan %s", resource, usage.PlanName).
		Component("fetch").
		Category(errors.CategoryLimit).
		Context("plan_id", usage.PlanID).
		Build()
}
