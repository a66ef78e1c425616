package alerts

import (
	"fmt"
	"strconv"

	"pulseboard/internal/models"
)

// DefaultProductName prefixes alert subjects when none is configured
const DefaultProductName = "PulseBoard"

// Message is a rendered alert notification
type Message struct {
	Subject string
	Body    string
}

// Render builds the subject and body for an alert. The output depends only
// on its inputs.
func Render(product string, status models.Status, title string, value, threshold float64) Message {
	if product == "" {
		product = DefaultProductName
	}
	upper := status.Upper()
	return Message{
		Subject: fmt.Sprintf("[%s] %s Alert: %s", product, upper, title),
		Body: fmt.Sprintf("Your metric \"%s\" has a value of %s (threshold: %s). Status: %s.",
			title, formatNumber(value), formatNumber(threshold), upper),
	}
}

// formatNumber prints the shortest representation that round-trips
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
