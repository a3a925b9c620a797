package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/simdojo/internal/model"
)

// mockProfileUpdater はProfileUpdaterInterfaceのモック実装。
type mockProfileUpdater struct {
	updatePlanFn func(ctx context.Context, userID, planID string, planExpiresAt *time.Time) error
}

func (m *mockProfileUpdater) UpdatePlan(ctx context.Context, userID, planID string, planExpiresAt *time.Time) error {
	if m.updatePlanFn != nil {
		return m.updatePlanFn(ctx, userID, planID, planExpiresAt)
	}
	return nil
}

// mockPlanFinder はPlanFinderInterfaceのモック実装。
type mockPlanFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Plan, error)
}

func (m *mockPlanFinder) FindByID(ctx context.Context, id string) (*model.Plan, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func webhookRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	return req
}

func TestBillingWebhook_PlanChange_Success(t *testing.T) {
	var gotUserID, gotPlanID string
	updater := &mockProfileUpdater{
		updatePlanFn: func(ctx context.Context, userID, planID string, planExpiresAt *time.Time) error {
			gotUserID, gotPlanID = userID, planID
			return nil
		},
	}
	finder := &mockPlanFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Plan, error) {
			return &model.Plan{ID: id, Name: "Pro", Slug: "pro"}, nil
		},
	}
	h := NewBillingWebhookHandler(updater, finder, "webhook-secret")

	req := webhookRequest(`{"user_id": "user-123", "plan_id": "plan-pro"}`, "webhook-secret")
	w := httptest.NewRecorder()

	h.HandlePlanChange(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if gotUserID != "user-123" || gotPlanID != "plan-pro" {
		t.Errorf("UpdatePlan called with (%q, %q), want (user-123, plan-pro)", gotUserID, gotPlanID)
	}
}

func TestBillingWebhook_WrongSecret_Returns401(t *testing.T) {
	h := NewBillingWebhookHandler(&mockProfileUpdater{}, &mockPlanFinder{}, "webhook-secret")

	req := webhookRequest(`{"user_id": "user-123", "plan_id": "plan-pro"}`, "wrong")
	w := httptest.NewRecorder()

	h.HandlePlanChange(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestBillingWebhook_EmptySecretDisablesWebhook(t *testing.T) {
	h := NewBillingWebhookHandler(&mockProfileUpdater{}, &mockPlanFinder{}, "")

	// シークレット未設定時はヘッダーが空でも一致とみなさない
	req := webhookRequest(`{"user_id": "user-123", "plan_id": "plan-pro"}`, "")
	w := httptest.NewRecorder()

	h.HandlePlanChange(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestBillingWebhook_UnknownPlan_Returns422(t *testing.T) {
	updaterCalled := false
	updater := &mockProfileUpdater{
		updatePlanFn: func(ctx context.Context, userID, planID string, planExpiresAt *time.Time) error {
			updaterCalled = true
			return nil
		},
	}
	h := NewBillingWebhookHandler(updater, &mockPlanFinder{}, "webhook-secret")

	req := webhookRequest(`{"user_id": "user-123", "plan_id": "plan-unknown"}`, "webhook-secret")
	w := httptest.NewRecorder()

	h.HandlePlanChange(w, req)

	if w.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnprocessableEntity)
	}
	if updaterCalled {
		t.Error("UpdatePlan should not be called for unknown plan")
	}
}

func TestBillingWebhook_MissingFields_Returns400(t *testing.T) {
	h := NewBillingWebhookHandler(&mockProfileUpdater{}, &mockPlanFinder{}, "webhook-secret")

	req := webhookRequest(`{"user_id": "user-123"}`, "webhook-secret")
	w := httptest.NewRecorder()

	h.HandlePlanChange(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}
