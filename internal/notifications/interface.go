package notifications

// Notifier delivers risk alerts to the operator. Level is one of
// "info", "warning" or "error".
type Notifier interface {
	SendAlert(level, message string) error
}
