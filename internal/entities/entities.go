// Package entities defines the domain records held by the entity store.
// Field names follow the JSON shapes returned by the backing services.
package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID identifies an entity. Services send ids as JSON strings or numbers;
// both decode to the same text and always encode back as a string.
type ID string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number, got %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the id text.
func (id ID) String() string {
	return string(id)
}

// Treatment and step status values.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
)

// Notification status values.
const (
	NotificationUnread = "UNREAD"
	NotificationRead   = "READ"
)

// Farmer is the authenticated user's profile.
type Farmer struct {
	ID        ID       `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// Crop is a planted crop registered by a farmer.
type Crop struct {
	ID             ID        `json:"id"`
	CropName       string    `json:"cropName"`
	Area           float64   `json:"area"`
	PlantingDate   time.Time `json:"plantingDate"`
	IrrigationType string    `json:"irrigationType"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	FarmerID       ID        `json:"farmerId"`
}

// Diagnosis is one classification result for a crop photo.
type Diagnosis struct {
	ID                ID        `json:"diagnosis_id"`
	CropID            ID        `json:"crop_id"`
	PredictedClass    string    `json:"predicted_class"`
	Confidence        float64   `json:"confidence"`
	DiseaseDetected   bool      `json:"disease_detected"`
	RequiresTreatment bool      `json:"requires_treatment"`
	ImageURL          string    `json:"image_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Treatment tracks the plan attached to a diagnosis that requires action.
type Treatment struct {
	ID                       ID        `json:"id"`
	DiagnosisID              ID        `json:"diagnosisId"`
	CropID                   ID        `json:"cropId,omitempty"`
	Name                     string    `json:"name,omitempty"`
	Status                   string    `json:"status"`
	ActivitiesCount          int       `json:"activitiesCount"`
	CompletedActivitiesCount int       `json:"completedActivitiesCount"`
	PendingActivitiesCount   int       `json:"pendingActivitiesCount"`
	ProgressPercentage       int       `json:"progressPercentage"`
	DiagnosisDate            time.Time `json:"diagnosisDate"`
	CreatedAt                time.Time `json:"createdAt"`
}

// HasStatus compares the treatment status case-insensitively.
func (t *Treatment) HasStatus(status string) bool {
	return strings.EqualFold(t.Status, status)
}

// TreatmentStep is one scheduled activity of a treatment.
type TreatmentStep struct {
	ID                    ID        `json:"id"`
	TreatmentID           ID        `json:"treatmentId"`
	Name                  string    `json:"name"`
	Description           string    `json:"description,omitempty"`
	ScheduledDate         time.Time `json:"scheduledDate"`
	Status                string    `json:"status"`
	HasReminder           bool      `json:"hasReminder"`
	ReminderMinutesBefore int       `json:"reminderMinutesBefore,omitempty"`
}

// IsCompleted reports whether the step status is COMPLETED, ignoring case.
func (s *TreatmentStep) IsCompleted() bool {
	return strings.EqualFold(s.Status, StatusCompleted)
}

// Notification is a message delivered to the farmer's profile.
type Notification struct {
	ID                  ID        `json:"id"`
	Title               string    `json:"title"`
	Message             string    `json:"message"`
	NotificationType    string    `json:"notificationType"`
	NotificationChannel string    `json:"notificationChannel"`
	NotificationStatus  string    `json:"notificationStatus"`
	CreatedAt           time.Time `json:"createdAt"`
}

// IsRead reports whether the notification status is READ, ignoring case.
func (n *Notification) IsRead() bool {
	return strings.EqualFold(n.NotificationStatus, NotificationRead)
}

// DiagnosisStats aggregates the diagnosis log.
type DiagnosisStats struct {
	Total             int `json:"total"`
	ThisMonth         int `json:"thisMonth"`
	ThisWeek          int `json:"thisWeek"`
	DiseaseDetected   int `json:"diseaseDetected"`
	HealthyCrops      int `json:"healthyCrops"`
	RequiresTreatment int `json:"requiresTreatment"`
}

// TreatmentStats aggregates the treatment list.
type TreatmentStats struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	InProgress      int `json:"inProgress"`
	Completed       int `json:"completed"`
	Overdue         int `json:"overdue"`
	AverageProgress int `json:"averageProgress"`
}

// NotificationStats aggregates the notification list.
type NotificationStats struct {
	Total     int            `json:"total"`
	Unread    int            `json:"unread"`
	ByType    map[string]int `json:"byType"`
	ByChannel map[string]int `json:"byChannel"`
}

// Plan is a subscription plan offered by the subscription service.
type Plan struct {
	ID             ID      `json:"id"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency"`
	DiagnosesLimit int     `json:"diagnosesLimit"`
	CropsLimit     int     `json:"cropsLimit"`
}

// UsageLimits is the farmer's current consumption against their plan.
type UsageLimits struct {
	PlanID         ID     `json:"planId"`
	PlanName       string `json:"planName"`
	DiagnosesUsed  int    `json:"diagnosesUsed"`
	DiagnosesLimit int    `json:"diagnosesLimit"`
	CropsUsed      int    `json:"cropsUsed"`
	CropsLimit     int    `json:"cropsLimit"`
	CanDiagnose    bool   `json:"canDiagnose"`
	CanAddCrop     bool   `json:"canAddCrop"`
}

// PaymentOrder is a PayPal order created by the subscription service.
type PaymentOrder struct {
	OrderID     string `json:"orderId"`
	ApprovalURL string `json:"approvalUrl"`
	Status      string `json:"status"`
}
