package alerts

import "pulseboard/internal/models"

// CriticalFactor is the multiple of the threshold at which a metric turns critical
const CriticalFactor = 1.2

// Classify maps a value and its threshold to a severity state.
// Non-positive thresholds are accepted as-is.
func Classify(value, threshold float64) models.Status {
	switch {
	case value >= threshold*CriticalFactor:
		return models.StatusCritical
	case value >= threshold:
		return models.StatusWarning
	default:
		return models.StatusNormal
	}
}
