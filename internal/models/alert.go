package models

import "time"

// Alert records one threshold breach. Only Sent changes after creation.
type Alert struct {
	ID          string    `json:"id"`
	MetricCard  string    `json:"metric_card"`
	Status      Status    `json:"status"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	TriggeredAt time.Time `json:"triggered_at"`
	Owner       string    `json:"owner"`
	Sent        bool      `json:"sent"`
}

// PendingAlert is an undelivered alert expanded with the fields needed to
// render and address its message
type PendingAlert struct {
	Alert

	// Empty when the metric card no longer exists
	MetricTitle string `json:"metric_title"`

	// Empty when the owner cannot be resolved
	OwnerEmail string `json:"owner_email"`
	OwnerName  string `json:"owner_name"`
}

// Validate checks if the Alert has all required fields and valid values
func (a *Alert) Validate() error {
	if a.MetricCard == "" {
		return ErrEmptyMetricCard
	}
	if !a.Status.IsBreach() {
		return ErrNotBreach
	}
	if a.Owner == "" {
		return ErrEmptyOwner
	}
	if a.TriggeredAt.IsZero() {
		return ErrZeroTriggeredAt
	}
	return nil
}
