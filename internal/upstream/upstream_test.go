package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecart/backend/internal/cache"
	"coursecart/backend/internal/domain"
)

var testSite = domain.Site{Domain: "courses.example.com", Partner: "edx"}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetBundleUsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/bundles/b-1/", r.URL.Path)
		_ = json.NewEncoder(w).Encode(domain.Bundle{ID: "b-1", Courses: []domain.CatalogCourse{{Key: "A"}}})
	})
	catalog := NewCatalogClient(NewClient("catalog", srv.URL, time.Second, nil), cache.NewMemoryCache(), time.Minute)

	for i := 0; i < 3; i++ {
		bundle, err := catalog.GetBundle(context.Background(), testSite, "b-1")
		require.NoError(t, err)
		assert.Equal(t, "b-1", bundle.ID)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetBundleColdCacheStillCorrect(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(domain.Bundle{ID: "b-2"})
	})
	catalog := NewCatalogClient(NewClient("catalog", srv.URL, time.Second, nil), cache.NoopCache{}, time.Minute)

	for i := 0; i < 2; i++ {
		bundle, err := catalog.GetBundle(context.Background(), testSite, "b-2")
		require.NoError(t, err)
		assert.Equal(t, "b-2", bundle.ID)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientClassifiesFailures(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/bundles/missing/":
			w.WriteHeader(http.StatusNotFound)
		case "/api/v1/bundles/broken/":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream exploded"))
		case "/api/v1/bundles/slow/":
			time.Sleep(200 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(domain.Bundle{ID: "slow"})
		}
	})
	catalog := NewCatalogClient(NewClient("catalog", srv.URL, 50*time.Millisecond, nil), nil, time.Minute)
	ctx := context.Background()

	_, err := catalog.GetBundle(ctx, testSite, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsUnavailable(err))

	_, err = catalog.GetBundle(ctx, testSite, "broken")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.False(t, IsUnavailable(err))

	_, err = catalog.GetBundle(ctx, testSite, "slow")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClientReportsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	catalog := NewCatalogClient(NewClient("catalog", url, time.Second, nil), nil, time.Minute)
	_, err := catalog.GetBundle(context.Background(), testSite, "any")
	assert.ErrorIs(t, err, ErrConnection)
}

func TestContainsCourseRunsPrefersCatalogEndpoint(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/enterprise-catalogs/cat-1/contains_content_items/", r.URL.Path)
		assert.Equal(t, "run-a,run-b", r.URL.Query().Get("course_run_ids"))
		_ = json.NewEncoder(w).Encode(map[string]bool{"contains_content_items": true})
	})
	catalog := NewCatalogClient(NewClient("catalog", srv.URL, time.Second, nil), cache.NewMemoryCache(), time.Minute)

	ok, err := catalog.ContainsCourseRuns(context.Background(), testSite, "ent-1", "cat-1", []string{"run-b", "run-a", "run-b"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetLearnerDistinguishesAbsentFromError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("username") {
		case "known":
			_ = json.NewEncoder(w).Encode(map[string]any{"results": []domain.LearnerAffiliation{{
				Username:           "known",
				EnterpriseCustomer: domain.EnterpriseCustomer{UUID: "ent-1"},
			}}})
		case "new":
			_ = json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	enterprise := NewEnterpriseClient(NewClient("enterprise", srv.URL, time.Second, nil), cache.NewMemoryCache(), time.Minute)
	ctx := context.Background()

	learner, found, err := enterprise.GetLearner(ctx, testSite, "known")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ent-1", learner.EnterpriseCustomer.UUID)

	_, found, err = enterprise.GetLearner(ctx, testSite, "new")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = enterprise.GetLearner(ctx, testSite, "boom")
	require.Error(t, err)
}

func TestSetEnrollmentDetectsModeMismatch(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req domain.EnrollmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.IsActive {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"learner is enrolled in audit","error_code":"mode_mismatch"}`))
	})
	enrollment := NewEnrollmentClient(NewClient("enrollment", srv.URL, time.Second, nil))
	ctx := context.Background()

	require.NoError(t, enrollment.SetEnrollment(ctx, domain.EnrollmentRequest{Username: "u", CourseKey: "run", Mode: "verified", IsActive: true}))

	err := enrollment.SetEnrollment(ctx, domain.EnrollmentRequest{Username: "u", CourseKey: "run", Mode: "verified", IsActive: false})
	assert.ErrorIs(t, err, ErrModeMismatch)
}

func TestIssueCreditWrapsFailures(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req domain.CreditRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Amount.GreaterThan(decimal.NewFromInt(100)) {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "declined"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"refund_id": "re_1", "status": "succeeded"})
	})
	payments := NewPaymentClient(NewClient("payment", srv.URL, time.Second, nil))
	ctx := context.Background()

	ref, err := payments.IssueCredit(ctx, domain.CreditRequest{OrderNumber: "EDX-100001", Amount: decimal.NewFromInt(50), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "re_1", ref)

	_, err = payments.IssueCredit(ctx, domain.CreditRequest{OrderNumber: "EDX-100002", Amount: decimal.NewFromInt(500), Currency: "USD"})
	assert.True(t, errors.Is(err, ErrPayment))
}
