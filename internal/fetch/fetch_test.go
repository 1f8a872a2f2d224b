package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/farmdash/internal/auth"
	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/observability/metrics"
	"github.com/tphakala/farmdash/internal/recommend"
	"github.com/tphakala/farmdash/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const apiURL = "https://api.example.test"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	fetcher   *Fetcher
	store     *store.Store
	transport *httpmock.MockTransport
	clock     *testClock
	registry  *prometheus.Registry
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := auth.Claims{
		ID:    "farmer-1",
		Email: "farmer@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

// newHarness returns a logged-in fetcher whose services all share one
// isolated httpmock transport.
func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)}
	st := store.New(store.WithClock(clock.Now))
	t.Cleanup(st.Close)

	transport := httpmock.NewMockTransport()
	services, err := backend.NewServices(backend.ServicesConfig{
		DetectionURL:    apiURL,
		TreatmentURL:    apiURL,
		UserURL:         apiURL,
		NotificationURL: apiURL,
		SubscriptionURL: apiURL,
		RateLimit:       1000,
		Burst:           100,
	},
		backend.WithHTTPClient(&http.Client{Transport: transport}),
		backend.WithToken(st.Token),
	)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	fm, err := metrics.NewFetchMetrics(registry)
	require.NoError(t, err)

	sessions := auth.NewManager(st, services.User, auth.WithClock(clock.Now))
	st.SetToken(signedToken(t, clock.Now().Add(time.Hour)))

	f := New(st, services, sessions, WithClock(clock.Now), WithMetrics(fm))
	return &harness{fetcher: f, store: st, transport: transport, clock: clock, registry: registry}
}

// counter returns the value of the counter name whose labels include every
// pair in labels.
func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := h.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func (h *harness) calls(method, path string) int {
	return h.transport.GetCallCountInfo()[method+" "+apiURL+path]
}

const cropsJSON = `[
	{"id":"c1","cropName":"Tomato","area":1.5,"plantingDate":"2025-03-01T00:00:00Z","irrigationType":"DRIP","farmerId":"farmer-1"},
	{"id":"c2","cropName":"Maize","area":3,"plantingDate":"2025-04-01T00:00:00Z","irrigationType":"RAIN","farmerId":"farmer-1"}
]`

func TestCachedPathSkipsNetwork(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/crops/farmer/farmer-1",
		httpmock.NewStringResponder(http.StatusOK, cropsJSON))

	crops, err := h.fetcher.Crops(t.Context(), false)
	require.NoError(t, err)
	require.Len(t, crops, 2)
	assert.Equal(t, 1, h.calls(http.MethodGet, "/crops/farmer/farmer-1"))

	crops, err = h.fetcher.Crops(t.Context(), false)
	require.NoError(t, err)
	assert.Len(t, crops, 2)
	assert.Equal(t, 1, h.calls(http.MethodGet, "/crops/farmer/farmer-1"), "fresh data must not hit the network")

	_, err = h.fetcher.Crops(t.Context(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, h.calls(http.MethodGet, "/crops/farmer/farmer-1"), "force bypasses the cache")

	assert.InDelta(t, 1, h.counter(t, "farmdash_fetches_total", map[string]string{"collection": "crops", "result": metrics.ResultCacheHit}), 0)
}

func TestRefetchAfterTTL(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var served atomic.Int32
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/notifications/profile/farmer-1",
		func(*http.Request) (*http.Response, error) {
			if served.Add(1) <= 2 {
				return httpmock.NewStringResponse(http.StatusOK, `[]`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK,
				`[{"id":"n1","title":"Rain","notificationType":"weather","notificationChannel":"push","notificationStatus":"UNREAD"}]`), nil
		})

	_, err := h.fetcher.Notifications(t.Context(), false)
	require.NoError(t, err)
	// An empty list is always considered stale.
	_, err = h.fetcher.Notifications(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), served.Load())

	_, err = h.fetcher.Notifications(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), served.Load())

	h.clock.Advance(store.DefaultNotificationTTL)
	_, err = h.fetcher.Notifications(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), served.Load(), "exactly at the TTL the data is still fresh")

	h.clock.Advance(time.Millisecond)
	_, err = h.fetcher.Notifications(t.Context(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(4), served.Load())
	assert.Equal(t, 1, h.store.NotificationStats().Unread)
}

func TestFailureKeepsCachedData(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/crops/farmer/farmer-1",
		httpmock.NewStringResponder(http.StatusOK, cropsJSON))
	_, err := h.fetcher.Crops(t.Context(), false)
	require.NoError(t, err)

	h.transport.RegisterResponder(http.MethodGet, apiURL+"/crops/farmer/farmer-1",
		httpmock.NewStringResponder(http.StatusInternalServerError, `{"detail":"database unavailable"}`))
	_, err = h.fetcher.Crops(t.Context(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")

	assert.Len(t, h.store.Crops(), 2)
	state := h.store.State(store.CollectionCrops)
	assert.Equal(t, store.StatusError, state.Status)
	assert.Contains(t, state.Error, "database unavailable")
	assert.NotEmpty(t, h.store.Token(), "server errors must not end the session")
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.SetCrops([]entities.Crop{{ID: "c1", CropName: "Tomato"}})
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/detections/farmer-1",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"message":"token revoked"}`))

	_, err := h.fetcher.Diagnoses(t.Context(), false)
	require.Error(t, err)
	assert.True(t, errors.IsAuthentication(err))

	assert.Empty(t, h.store.Token())
	assert.Empty(t, h.store.Crops(), "forced logout clears every collection")
	assert.InDelta(t, 1, h.counter(t, "farmdash_forced_logouts_total", nil), 0)
}

func TestExpiredTokenForcesLogoutWithoutRequest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clock.Advance(2 * time.Hour)

	_, err := h.fetcher.Crops(t.Context(), false)
	require.Error(t, err)
	assert.True(t, errors.IsAuthentication(err))
	assert.Empty(t, h.store.Token())
	assert.Zero(t, h.transport.GetTotalCallCount())
}

func TestNotLoggedIn(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.ClearAll()

	_, err := h.fetcher.Treatments(t.Context(), false)
	require.ErrorIs(t, err, auth.ErrNoSession)
	assert.Zero(t, h.transport.GetTotalCallCount())
	assert.InDelta(t, 0, h.counter(t, "farmdash_forced_logouts_total", nil), 0)
}

func TestConcurrentFetchesShareOneRequest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	release := make(chan struct{})
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/treatments/farmer/farmer-1",
		func(*http.Request) (*http.Response, error) {
			<-release
			return httpmock.NewStringResponse(http.StatusOK,
				`[{"id":"t1","diagnosisId":"d1","status":"PENDING","activitiesCount":4,"completedActivitiesCount":1}]`), nil
		})

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]entities.Treatment, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Go(func() {
			results[i], errs[i] = h.fetcher.Treatments(context.Background(), false)
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, 25, results[i][0].ProgressPercentage)
	}
	assert.Equal(t, 1, h.calls(http.MethodGet, "/treatments/farmer/farmer-1"))
}

func TestRefreshAllReportsEveryFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/farmers/farmer-1",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"farmer-1","email":"farmer@example.com","firstName":"Ana"}`))
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/crops/farmer/farmer-1",
		httpmock.NewStringResponder(http.StatusOK, cropsJSON))
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/detections/farmer-1",
		httpmock.NewStringResponder(http.StatusBadGateway, `{"detail":"detection offline"}`))
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/treatments/farmer/farmer-1",
		httpmock.NewStringResponder(http.StatusOK, `[]`))
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/notifications/profile/farmer-1",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"message":"notifications offline"}`))
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/usage/farmer-1",
		httpmock.NewStringResponder(http.StatusOK, `{"planId":"free","diagnosesUsed":2,"diagnosesLimit":10,"canDiagnose":true,"canAddCrop":true}`))

	err := h.fetcher.RefreshAll(t.Context(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detection offline")
	assert.Contains(t, err.Error(), "notifications offline")

	assert.Equal(t, "Ana", h.store.Farmer().FirstName)
	assert.Len(t, h.store.Crops(), 2)
	assert.Equal(t, 2, h.store.Usage().DiagnosesUsed)
	assert.Equal(t, store.StatusError, h.store.State(store.CollectionDiagnoses).Status)
	assert.Equal(t, store.StatusReady, h.store.State(store.CollectionCrops).Status)
}

func TestStepsAreOrderedAndTagged(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/treatments/t1/steps",
		httpmock.NewStringResponder(http.StatusOK, `[
			{"id":"s2","name":"Treat","scheduledDate":"2025-06-06T00:00:00Z","status":"PENDING"},
			{"id":"s1","name":"Inspect","scheduledDate":"2025-06-04T00:00:00Z","status":"COMPLETED"}
		]`))

	steps, err := h.fetcher.Steps(t.Context(), "t1", false)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, entities.ID("s1"), steps[0].ID)
	assert.Equal(t, entities.ID("t1"), steps[1].TreatmentID)

	_, err = h.fetcher.Steps(t.Context(), "", false)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCompleteStepDerivesTreatmentProgress(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.SetTreatments([]entities.Treatment{{
		ID:                       "t1",
		DiagnosisID:              "d1",
		Status:                   entities.StatusInProgress,
		ActivitiesCount:          2,
		CompletedActivitiesCount: 1,
	}})
	h.transport.RegisterResponder(http.MethodGet, apiURL+"/treatments/t1/steps",
		httpmock.NewStringResponder(http.StatusOK, `[
			{"id":"s1","treatmentId":"t1","name":"Inspect","scheduledDate":"2025-06-04T00:00:00Z","status":"COMPLETED"},
			{"id":"s2","treatmentId":"t1","name":"Treat","scheduledDate":"2025-06-05T00:00:00Z","status":"PENDING"}
		]`))
	h.transport.RegisterResponder(http.MethodPut, apiURL+"/treatments/steps/s2",
		func(req *http.Request) (*http.Response, error) {
			var step entities.TreatmentStep
			require.NoError(t, json.NewDecoder(req.Body).Decode(&step))
			assert.Equal(t, entities.StatusCompleted, step.Status)
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})
	var synced entities.Treatment
	h.transport.RegisterResponder(http.MethodPut, apiURL+"/treatments/t1",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, json.NewDecoder(req.Body).Decode(&synced))
			return httpmock.NewStringResponse(http.StatusOK, ""), nil
		})

	treatment, err := h.fetcher.CompleteStep(t.Context(), "t1", "s2")
	require.NoError(t, err)
	assert.Equal(t, 100, treatment.ProgressPercentage)
	assert.Equal(t, 2, treatment.CompletedActivitiesCount)
	assert.Equal(t, 0, treatment.PendingActivitiesCount)
	assert.Equal(t, entities.StatusCompleted, treatment.Status)
	assert.Equal(t, 100, synced.ProgressPercentage)

	stats := h.store.TreatmentStats()
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.InProgress)

	_, err = h.fetcher.CompleteStep(t.Context(), "t1", "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSubmitDiagnosis(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.transport.RegisterResponder(http.MethodPost, apiURL+"/detections/diagnose",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "c1", req.URL.Query().Get("crop_id"))
			assert.Equal(t, "farmer-1", req.URL.Query().Get("profile_id"))
			file, _, err := req.FormFile("file")
			require.NoError(t, err)
			data, _ := io.ReadAll(file)
			assert.Equal(t, "jpeg-bytes", string(data))
			return httpmock.NewStringResponse(http.StatusOK, `{
				"diagnosis_id":"d9","predicted_class":"Tomato___Late_blight","confidence":0.91,
				"disease_detected":true,"requires_treatment":true,"created_at":"2025-06-04T09:59:00Z"}`), nil
		})

	sub, err := h.fetcher.SubmitDiagnosis(t.Context(), "c1", "leaf.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, entities.ID("d9"), sub.Diagnosis.ID)
	assert.Equal(t, entities.ID("c1"), sub.Diagnosis.CropID)
	assert.Equal(t, recommend.UrgencyHigh, sub.Recommendation.Urgency)

	stats := h.store.DiagnosisStats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.RequiresTreatment)

	rec, err := h.fetcher.Recommendation(t.Context(), "d9")
	require.NoError(t, err)
	assert.Equal(t, sub.Recommendation, *rec)
}

func TestSubmitDiagnosisRespectsPlanLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.SetUsage(&entities.UsageLimits{PlanID: "free", PlanName: "Free", CanDiagnose: false})

	_, err := h.fetcher.SubmitDiagnosis(t.Context(), "c1", "leaf.jpg", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
	assert.Zero(t, h.transport.GetTotalCallCount())
}

func TestCreateTreatmentFromDiagnosis(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.AddDiagnosis(entities.Diagnosis{
		ID: "d1", CropID: "c1", PredictedClass: "Potato___Early_blight",
		Confidence: 0.7, DiseaseDetected: true, RequiresTreatment: true,
		CreatedAt: h.clock.Now().Add(-time.Hour),
	})
	h.transport.RegisterResponder(http.MethodPost, apiURL+"/treatments",
		func(req *http.Request) (*http.Response, error) {
			var body backend.CreateTreatmentRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, entities.ID("d1"), body.DiagnosisID)
			assert.Equal(t, entities.ID("farmer-1"), body.FarmerID)
			assert.Equal(t, "Potato Early Blight", body.Name)
			assert.Len(t, body.Steps, 4)
			return httpmock.NewStringResponse(http.StatusCreated,
				`{"id":"t7","diagnosisId":"d1","status":"PENDING","activitiesCount":4}`), nil
		})

	treatment, err := h.fetcher.CreateTreatment(t.Context(), "d1")
	require.NoError(t, err)
	assert.Equal(t, entities.ID("t7"), treatment.ID)
	assert.Equal(t, 1, h.store.TreatmentStats().Pending)

	h.store.AddDiagnosis(entities.Diagnosis{ID: "d2", PredictedClass: "Tomato___healthy"})
	_, err = h.fetcher.CreateTreatment(t.Context(), "d2")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCropActions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.transport.RegisterResponder(http.MethodPost, apiURL+"/crops",
		func(req *http.Request) (*http.Response, error) {
			var crop entities.Crop
			require.NoError(t, json.NewDecoder(req.Body).Decode(&crop))
			assert.Equal(t, entities.ID("farmer-1"), crop.FarmerID)
			crop.ID = "c5"
			return httpmock.NewJsonResponse(http.StatusCreated, crop)
		})
	h.transport.RegisterResponder(http.MethodPut, apiURL+"/crops/c5",
		func(req *http.Request) (*http.Response, error) {
			var crop entities.Crop
			require.NoError(t, json.NewDecoder(req.Body).Decode(&crop))
			return httpmock.NewJsonResponse(http.StatusOK, crop)
		})
	h.transport.RegisterResponder(http.MethodDelete, apiURL+"/crops/c5",
		httpmock.NewStringResponder(http.StatusNoContent, ""))

	created, err := h.fetcher.CreateCrop(t.Context(), entities.Crop{CropName: "Beans", Area: 2})
	require.NoError(t, err)
	assert.Equal(t, entities.ID("c5"), created.ID)
	require.Len(t, h.store.Crops(), 1)

	created.Area = 4
	_, err = h.fetcher.UpdateCrop(t.Context(), *created)
	require.NoError(t, err)
	assert.InDelta(t, 4, h.store.Crops()[0].Area, 0)

	require.NoError(t, h.fetcher.DeleteCrop(t.Context(), "c5"))
	assert.Empty(t, h.store.Crops())

	_, err = h.fetcher.CreateCrop(t.Context(), entities.Crop{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestMarkNotificationsRead(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.store.SetNotifications([]entities.Notification{
		{ID: "n1", NotificationStatus: entities.NotificationUnread},
		{ID: "n2", NotificationStatus: entities.NotificationUnread},
		{ID: "n3", NotificationStatus: entities.NotificationRead},
	})
	h.transport.RegisterRegexpResponder(http.MethodPut, regexp.MustCompile(`/notifications/n\d/read$`),
		httpmock.NewStringResponder(http.StatusOK, ""))

	require.NoError(t, h.fetcher.MarkNotificationRead(t.Context(), "n1"))
	assert.Equal(t, 1, h.store.NotificationStats().Unread)

	marked, err := h.fetcher.MarkAllNotificationsRead(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.Equal(t, 0, h.store.NotificationStats().Unread)
	assert.Equal(t, 2, h.transport.GetTotalCallCount())

	marked, err = h.fetcher.MarkAllNotificationsRead(t.Context())
	require.NoError(t, err)
	assert.Zero(t, marked)
	assert.Equal(t, 2, h.transport.GetTotalCallCount())
}
