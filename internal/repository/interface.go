package repository

import "lira/pkg/models"

// WorkflowStore is an interface for looking up configured workflows.
type WorkflowStore interface {
	// BySubscription returns the workflow triggered by a subscription.
	BySubscription(subscriptionID string) (models.WorkflowConfig, bool)
	// All returns every configured workflow in configuration order.
	All() []models.WorkflowConfig
}
