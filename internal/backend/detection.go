package backend

import (
	"context"
	"io"
	"net/url"

	"github.com/tphakala/farmdash/internal/entities"
)

// DetectionClient talks to the disease detection service.
type DetectionClient struct {
	c *Client
}

// NewDetectionClient wraps a Client configured for the detection service.
func NewDetectionClient(c *Client) *DetectionClient {
	return &DetectionClient{c: c}
}

// ListDiagnoses returns every diagnosis of a farmer.
func (d *DetectionClient) ListDiagnoses(ctx context.Context, farmerID string) ([]entities.Diagnosis, error) {
	var out []entities.Diagnosis
	if err := d.c.getJSON(ctx, "/detections/"+escape(farmerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDiagnosis returns one diagnosis.
func (d *DetectionClient) GetDiagnosis(ctx context.Context, id string) (*entities.Diagnosis, error) {
	var out entities.Diagnosis
	if err := d.c.getJSON(ctx, "/detections/detail/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Diagnose uploads a crop photo for classification.
func (d *DetectionClient) Diagnose(ctx context.Context, cropID, profileID, fileName string, image io.Reader) (*entities.Diagnosis, error) {
	query := url.Values{}
	query.Set("crop_id", cropID)
	query.Set("profile_id", profileID)

	var out entities.Diagnosis
	if err := d.c.doMultipart(ctx, "/detections/diagnose", query, "file", fileName, image, &out); err != nil {
		return nil, err
	}
	if out.CropID == "" {
		out.CropID = entities.ID(cropID)
	}
	return &out, nil
}
