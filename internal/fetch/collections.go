package fetch

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/farmdash/internal/auth"
	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/store"
)

// Farmer loads the farmer profile.
func (f *Fetcher) Farmer(ctx context.Context, force bool) (*entities.Farmer, error) {
	return load(ctx, f, store.CollectionFarmer, "", force,
		f.store.Farmer,
		func() bool { return f.store.ShouldFetch(store.CollectionFarmer) },
		func(ctx context.Context, sess *auth.Session) (*entities.Farmer, error) {
			return f.services.User.GetFarmer(ctx, sess.FarmerID())
		},
		f.store.CommitFarmer,
	)
}

// Crops loads the farmer's crops.
func (f *Fetcher) Crops(ctx context.Context, force bool) ([]entities.Crop, error) {
	return load(ctx, f, store.CollectionCrops, "", force,
		f.store.Crops,
		func() bool { return f.store.ShouldFetch(store.CollectionCrops) },
		func(ctx context.Context, sess *auth.Session) ([]entities.Crop, error) {
			return f.services.User.ListCrops(ctx, sess.FarmerID())
		},
		f.store.CommitCrops,
	)
}

// Diagnoses loads the diagnosis log.
func (f *Fetcher) Diagnoses(ctx context.Context, force bool) ([]entities.Diagnosis, error) {
	return load(ctx, f, store.CollectionDiagnoses, "", force,
		f.store.Diagnoses,
		func() bool { return f.store.ShouldFetch(store.CollectionDiagnoses) },
		func(ctx context.Context, sess *auth.Session) ([]entities.Diagnosis, error) {
			return f.services.Detection.ListDiagnoses(ctx, sess.FarmerID())
		},
		f.store.CommitDiagnoses,
	)
}

// Treatments loads the treatment list.
func (f *Fetcher) Treatments(ctx context.Context, force bool) ([]entities.Treatment, error) {
	return load(ctx, f, store.CollectionTreatments, "", force,
		f.store.Treatments,
		func() bool { return f.store.ShouldFetch(store.CollectionTreatments) },
		func(ctx context.Context, sess *auth.Session) ([]entities.Treatment, error) {
			return f.services.Treatment.ListTreatments(ctx, sess.FarmerID())
		},
		f.store.CommitTreatments,
	)
}

// Steps loads the steps of one treatment.
func (f *Fetcher) Steps(ctx context.Context, treatmentID string, force bool) ([]entities.TreatmentStep, error) {
	if treatmentID == "" {
		return nil, errors.ValidationError("treatment id is required")
	}
	return load(ctx, f, store.CollectionSteps, treatmentID, force,
		func() []entities.TreatmentStep {
			list, _ := f.store.Steps(treatmentID)
			return list
		},
		func() bool { return f.store.ShouldFetchSteps(treatmentID) },
		func(ctx context.Context, _ *auth.Session) ([]entities.TreatmentStep, error) {
			list, err := f.services.Treatment.ListSteps(ctx, treatmentID)
			if err != nil {
				return nil, err
			}
			for i := range list {
				if list[i].TreatmentID == "" {
					list[i].TreatmentID = entities.ID(treatmentID)
				}
			}
			slices.SortStableFunc(list, func(a, b entities.TreatmentStep) int {
				return a.ScheduledDate.Compare(b.ScheduledDate)
			})
			return list, nil
		},
		f.store.CommitSteps,
	)
}

// Notifications loads the notification list.
func (f *Fetcher) Notifications(ctx context.Context, force bool) ([]entities.Notification, error) {
	return load(ctx, f, store.CollectionNotifications, "", force,
		f.store.Notifications,
		func() bool { return f.store.ShouldFetch(store.CollectionNotifications) },
		func(ctx context.Context, sess *auth.Session) ([]entities.Notification, error) {
			return f.services.Notification.ListNotifications(ctx, sess.FarmerID())
		},
		f.store.CommitNotifications,
	)
}

// Usage loads the subscription usage counters.
func (f *Fetcher) Usage(ctx context.Context, force bool) (*entities.UsageLimits, error) {
	return load(ctx, f, store.CollectionUsage, "", force,
		f.store.Usage,
		func() bool { return f.store.ShouldFetch(store.CollectionUsage) },
		func(ctx context.Context, sess *auth.Session) (*entities.UsageLimits, error) {
			return f.services.Subscription.Usage(ctx, sess.FarmerID())
		},
		f.store.CommitUsage,
	)
}

// Plans returns the subscription plan catalogue.
func (f *Fetcher) Plans(ctx context.Context) ([]entities.Plan, error) {
	return f.services.Subscription.Plans(ctx)
}

// RefreshAll loads every top-level collection concurrently. Collections are
// independent: one failure neither cancels nor hides the others, and every
// failure is returned joined.
func (f *Fetcher) RefreshAll(ctx context.Context, force bool) error {
	loaders := []func(context.Context, bool) error{
		func(ctx context.Context, force bool) error { _, err := f.Farmer(ctx, force); return err },
		func(ctx context.Context, force bool) error { _, err := f.Crops(ctx, force); return err },
		func(ctx context.Context, force bool) error { _, err := f.Diagnoses(ctx, force); return err },
		func(ctx context.Context, force bool) error { _, err := f.Treatments(ctx, force); return err },
		func(ctx context.Context, force bool) error { _, err := f.Notifications(ctx, force); return err },
		func(ctx context.Context, force bool) error { _, err := f.Usage(ctx, force); return err },
	}

	errs := make([]error, len(loaders))
	var g errgroup.Group
	for i, fn := range loaders {
		g.Go(func() error {
			errs[i] = fn(ctx, force)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	f.logger.Debug("refresh complete", "forced", force)
	return nil
}
