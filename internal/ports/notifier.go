package ports

import (
	"context"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// Notifier presenta al operador las alertas nuevas del risk monitor.
type Notifier interface {
	// NotifyAlerts muestra las alertas en orden cronológico.
	NotifyAlerts(ctx context.Context, alerts []domain.Alert) error
}
