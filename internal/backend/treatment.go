package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/tphakala/farmdash/internal/entities"
)

// TreatmentClient talks to the treatment service.
type TreatmentClient struct {
	c *Client
}

// NewTreatmentClient wraps a Client configured for the treatment service.
func NewTreatmentClient(c *Client) *TreatmentClient {
	return &TreatmentClient{c: c}
}

// CreateTreatmentRequest is the body of POST /treatments.
type CreateTreatmentRequest struct {
	DiagnosisID   entities.ID              `json:"diagnosisId"`
	CropID        entities.ID              `json:"cropId,omitempty"`
	FarmerID      entities.ID              `json:"farmerId"`
	Name          string                   `json:"name,omitempty"`
	DiagnosisDate time.Time                `json:"diagnosisDate"`
	Steps         []entities.TreatmentStep `json:"steps,omitempty"`
}

// ListTreatments returns every treatment of a farmer.
func (t *TreatmentClient) ListTreatments(ctx context.Context, farmerID string) ([]entities.Treatment, error) {
	var out []entities.Treatment
	if err := t.c.getJSON(ctx, "/treatments/farmer/"+escape(farmerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTreatment returns one treatment.
func (t *TreatmentClient) GetTreatment(ctx context.Context, id string) (*entities.Treatment, error) {
	var out entities.Treatment
	if err := t.c.getJSON(ctx, "/treatments/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTreatment creates a treatment with its initial steps.
func (t *TreatmentClient) CreateTreatment(ctx context.Context, req CreateTreatmentRequest) (*entities.Treatment, error) {
	var out entities.Treatment
	if err := t.c.doJSON(ctx, http.MethodPost, "/treatments", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTreatment replaces a treatment.
func (t *TreatmentClient) UpdateTreatment(ctx context.Context, treatment entities.Treatment) (*entities.Treatment, error) {
	var out entities.Treatment
	if err := t.c.doJSON(ctx, http.MethodPut, "/treatments/"+escape(treatment.ID.String()), nil, treatment, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSteps returns the ordered steps of a treatment.
func (t *TreatmentClient) ListSteps(ctx context.Context, treatmentID string) ([]entities.TreatmentStep, error) {
	var out []entities.TreatmentStep
	if err := t.c.getJSON(ctx, "/treatments/"+escape(treatmentID)+"/steps", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStep replaces one step. The service echoes the stored step; when the
// body is empty the submitted step is returned.
func (t *TreatmentClient) UpdateStep(ctx context.Context, step entities.TreatmentStep) (*entities.TreatmentStep, error) {
	out := step
	if err := t.c.doJSON(ctx, http.MethodPut, "/treatments/steps/"+escape(step.ID.String()), nil, step, &out); err != nil {
		return nil, err
	}
	if out.TreatmentID == "" {
		out.TreatmentID = step.TreatmentID
	}
	return &out, nil
}
