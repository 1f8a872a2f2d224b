package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/farmdash/internal/entities"
)

// CreateTreatmentRequest is the body of POST /treatments.
type CreateTreatmentRequest struct {
	DiagnosisID entities.ID `json:"diagnosisId"`
}

func (c *Controller) initActionRoutes() {
	c.Group.POST("/crops", c.CreateCrop)
	c.Group.PUT("/crops/:id", c.UpdateCrop)
	c.Group.DELETE("/crops/:id", c.DeleteCrop)
	c.Group.POST("/diagnoses", c.SubmitDiagnosis)
	c.Group.GET("/diagnoses/:id/recommendation", c.GetRecommendation)
	c.Group.POST("/treatments", c.CreateTreatment)
	c.Group.PUT("/treatments/:id/steps/:stepId/complete", c.CompleteStep)
	c.Group.PUT("/notifications/read-all", c.MarkAllNotificationsRead)
	c.Group.PUT("/notifications/:id/read", c.MarkNotificationRead)
}

// CreateCrop registers a crop.
func (c *Controller) CreateCrop(ctx echo.Context) error {
	var crop entities.Crop
	if err := ctx.Bind(&crop); err != nil {
		return c.badRequest(ctx, "invalid crop payload")
	}
	created, err := c.fetcher.CreateCrop(ctx.Request().Context(), crop)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, created)
}

// UpdateCrop replaces a crop.
func (c *Controller) UpdateCrop(ctx echo.Context) error {
	var crop entities.Crop
	if err := ctx.Bind(&crop); err != nil {
		return c.badRequest(ctx, "invalid crop payload")
	}
	crop.ID = entities.ID(ctx.Param("id"))
	updated, err := c.fetcher.UpdateCrop(ctx.Request().Context(), crop)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, updated)
}

// DeleteCrop deletes a crop.
func (c *Controller) DeleteCrop(ctx echo.Context) error {
	if err := c.fetcher.DeleteCrop(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// SubmitDiagnosis uploads the multipart "file" for the crop in form field "crop_id".
func (c *Controller) SubmitDiagnosis(ctx echo.Context) error {
	cropID := ctx.FormValue("crop_id")
	if cropID == "" {
		return c.badRequest(ctx, "crop_id is required")
	}
	header, err := ctx.FormFile("file")
	if err != nil {
		return c.badRequest(ctx, "file is required")
	}
	if header.Size > maxImageSize {
		return c.badRequest(ctx, "image is too large")
	}
	file, err := header.Open()
	if err != nil {
		return c.badRequest(ctx, "unreadable image")
	}
	defer func() { _ = file.Close() }()

	sub, err := c.fetcher.SubmitDiagnosis(ctx.Request().Context(), cropID, header.Filename, file)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, sub)
}

// GetRecommendation returns advice for a diagnosis.
func (c *Controller) GetRecommendation(ctx echo.Context) error {
	rec, err := c.fetcher.Recommendation(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, rec)
}

// CreateTreatment starts a treatment for a diagnosis.
func (c *Controller) CreateTreatment(ctx echo.Context) error {
	var req CreateTreatmentRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, "invalid treatment payload")
	}
	treatment, err := c.fetcher.CreateTreatment(ctx.Request().Context(), req.DiagnosisID.String())
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, treatment)
}

// CompleteStep marks a treatment step completed and returns the updated treatment.
func (c *Controller) CompleteStep(ctx echo.Context) error {
	treatment, err := c.fetcher.CompleteStep(ctx.Request().Context(), ctx.Param("id"), ctx.Param("stepId"))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, treatment)
}

// MarkNotificationRead marks one notification read.
func (c *Controller) MarkNotificationRead(ctx echo.Context) error {
	if err := c.fetcher.MarkNotificationRead(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// MarkAllNotificationsRead marks every unread notification read.
func (c *Controller) MarkAllNotificationsRead(ctx echo.Context) error {
	marked, err := c.fetcher.MarkAllNotificationsRead(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]int{"marked": marked})
}
