package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

func TestSubscriptionValidate(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	tests := []struct {
		name    string
		sub     Subscription
		wantErr bool
	}{
		{"valid", Subscription{OrganizationID: 1, Plan: plans.PlanDealer, Status: SubscriptionStatusActive, CurrentPeriodStart: &start, CurrentPeriodEnd: &end}, false},
		{"no period", Subscription{OrganizationID: 1, Plan: plans.PlanCollector, Status: SubscriptionStatusTrialing}, false},
		{"unknown status", Subscription{OrganizationID: 1, Plan: plans.PlanDealer, Status: "paused"}, true},
		{"missing org", Subscription{Plan: plans.PlanDealer, Status: SubscriptionStatusActive}, true},
		{"end before start", Subscription{OrganizationID: 1, Plan: plans.PlanDealer, Status: SubscriptionStatusActive, CurrentPeriodStart: &end, CurrentPeriodEnd: &start}, true},
		{"end equals start", Subscription{OrganizationID: 1, Plan: plans.PlanDealer, Status: SubscriptionStatusActive, CurrentPeriodStart: &start, CurrentPeriodEnd: &start}, true},
	}
	for _, tt := range tests {
		err := tt.sub.Validate()
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: Validate() err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestSubscriptionIsEntitling(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{SubscriptionStatusActive, true},
		{SubscriptionStatusTrialing, true},
		{SubscriptionStatusPastDue, true},
		{SubscriptionStatusCancelled, false},
		{SubscriptionStatusIncomplete, false},
	}
	for _, tt := range tests {
		s := Subscription{Status: tt.status}
		assert.Equal(t, tt.want, s.IsEntitling(), tt.status)
	}
}
