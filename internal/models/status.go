package models

import "strings"

// Status is the severity state of a metric card or alert
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// IsValid checks if the status is one of the known states
func (s Status) IsValid() bool {
	switch s {
	case StatusNormal, StatusWarning, StatusCritical:
		return true
	default:
		return false
	}
}

// IsBreach reports whether the status should produce an alert
func (s Status) IsBreach() bool {
	return s == StatusWarning || s == StatusCritical
}

// Upper returns the status in the upper-case form used in alert messages
func (s Status) Upper() string {
	return strings.ToUpper(string(s))
}
