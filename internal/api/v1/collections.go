package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/store"
)

// CollectionResponse carries a collection together with its freshness. When a
// refresh failed but cached data exists, Data holds the cached copy and
// State.Error the failure.
type CollectionResponse struct {
	Data  any                   `json:"data"`
	State store.CollectionState `json:"state"`
}

// StatsResponse bundles every derived statistic.
type StatsResponse struct {
	Diagnoses     entities.DiagnosisStats    `json:"diagnoses"`
	Treatments    entities.TreatmentStats    `json:"treatments"`
	Notifications entities.NotificationStats `json:"notifications"`
	Usage         *entities.UsageLimits      `json:"usage,omitempty"`
}

func (c *Controller) initCollectionRoutes() {
	c.Group.GET("/farmer", c.collection(store.CollectionFarmer, wrap(c.fetcher.Farmer)))
	c.Group.GET("/crops", c.collection(store.CollectionCrops, wrap(c.fetcher.Crops)))
	c.Group.GET("/diagnoses", c.collection(store.CollectionDiagnoses, wrap(c.fetcher.Diagnoses)))
	c.Group.GET("/treatments", c.collection(store.CollectionTreatments, wrap(c.fetcher.Treatments)))
	c.Group.GET("/notifications", c.collection(store.CollectionNotifications, wrap(c.fetcher.Notifications)))
	c.Group.GET("/usage", c.collection(store.CollectionUsage, wrap(c.fetcher.Usage)))
	c.Group.GET("/treatments/:id/steps", c.GetSteps)
	c.Group.GET("/stats", c.GetStats)
	c.Group.GET("/state", c.GetState)
	c.Group.GET("/plans", c.GetPlans)
}

type loaderFunc func(ctx context.Context, force bool) (any, error)

func wrap[T any](fn func(context.Context, bool) (T, error)) loaderFunc {
	return func(ctx context.Context, force bool) (any, error) {
		return fn(ctx, force)
	}
}

// refreshRequested reports whether ?refresh=true was passed.
func refreshRequested(ctx echo.Context) bool {
	force, _ := strconv.ParseBool(ctx.QueryParam("refresh"))
	return force
}

// collection returns a handler that runs the staleness-gated loader of c.
func (c *Controller) collection(col store.Collection, load loaderFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		data, err := load(ctx.Request().Context(), refreshRequested(ctx))
		if err != nil {
			cached, state := c.store.Get(col)
			if state.Count == 0 {
				return c.HandleError(ctx, err)
			}
			return ctx.JSON(http.StatusOK, CollectionResponse{Data: cached, State: state})
		}
		return ctx.JSON(http.StatusOK, CollectionResponse{Data: data, State: c.store.State(col)})
	}
}

// GetSteps returns the steps of one treatment.
func (c *Controller) GetSteps(ctx echo.Context) error {
	id := ctx.Param("id")
	steps, err := c.fetcher.Steps(ctx.Request().Context(), id, refreshRequested(ctx))
	state := c.store.StepsState(id)
	if err != nil {
		if state.Count == 0 {
			return c.HandleError(ctx, err)
		}
		steps, _ = c.store.Steps(id)
	}
	return ctx.JSON(http.StatusOK, CollectionResponse{Data: steps, State: state})
}

// GetStats returns the derived statistics currently held by the store.
func (c *Controller) GetStats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StatsResponse{
		Diagnoses:     c.store.DiagnosisStats(),
		Treatments:    c.store.TreatmentStats(),
		Notifications: c.store.NotificationStats(),
		Usage:         c.store.Usage(),
	})
}

// GetState returns the freshness of every collection.
func (c *Controller) GetState(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.store.States())
}

// GetPlans returns the subscription plan catalogue.
func (c *Controller) GetPlans(ctx echo.Context) error {
	plans, err := c.fetcher.Plans(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, plans)
}
