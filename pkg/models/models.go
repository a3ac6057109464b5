// Package models defines the domain models for the notification adapter
package models

import (
	"errors"
)

// ErrBundleNotFound is returned by metadata sources when the requested
// bundle does not exist in the data store.
var ErrBundleNotFound = errors.New("bundle not found")

// BundleMatch identifies the bundle a notification refers to.
type BundleMatch struct {
	BundleUUID    string `json:"bundle_uuid"`
	BundleVersion string `json:"bundle_version"`
}

// Notification is the body the data store posts when a subscribed bundle
// is created or changed.
type Notification struct {
	SubscriptionID string         `json:"subscription_id"`
	Match          BundleMatch    `json:"match"`
	Labels         map[string]any `json:"labels,omitempty"`
	Attachments    map[string]any `json:"attachments,omitempty"`
}

// Validate checks that the fields required to route the notification
// are present.
func (n Notification) Validate() error {
	switch {
	case n.SubscriptionID == "":
		return errors.New("subscription_id is required")
	case n.Match.BundleUUID == "":
		return errors.New("match.bundle_uuid is required")
	case n.Match.BundleVersion == "":
		return errors.New("match.bundle_version is required")
	}
	return nil
}

// Submission is everything the workflow engine needs to launch one
// workflow.
type Submission struct {
	WDL            []byte
	Inputs         [][]byte
	Options        []byte
	Dependencies   []byte
	Labels         []byte
	OnHold         bool
	CollectionName string
}

// SubmissionResult is the engine's answer to a successful submission.
type SubmissionResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	// Body is the raw response returned by the engine.
	Body []byte `json:"-"`
}
