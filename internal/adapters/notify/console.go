package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// Console implementa ports.Notifier y los informes de consola del CLI.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyAlerts imprime una línea por alerta, en orden cronológico.
func (c *Console) NotifyAlerts(_ context.Context, alerts []domain.Alert) error {
	for _, a := range alerts {
		fmt.Fprintf(c.out, "[%s] %s %-8s %s: %s\n",
			a.Timestamp.Local().Format("15:04:05"),
			levelIcon(a.Level), a.Level, a.Category, a.Message)
	}
	return nil
}

func levelIcon(l domain.AlertLevel) string {
	switch l {
	case domain.AlertCritical:
		return "🔴"
	case domain.AlertWarning:
		return "🟡"
	default:
		return "🔵"
	}
}

// banner imprime un título enmarcado.
func (c *Console) banner(title string) {
	const width = 62
	pad := max(0, width-len(title))
	left := pad / 2
	fmt.Fprintf(c.out, "\n╔%s╗\n", strings.Repeat("═", width))
	fmt.Fprintf(c.out, "║%s%s%s║\n", strings.Repeat(" ", left), title, strings.Repeat(" ", pad-left))
	fmt.Fprintf(c.out, "╚%s╝\n\n", strings.Repeat("═", width))
}

func section(w io.Writer, title string, n int) {
	if n >= 0 {
		fmt.Fprintf(w, "\n── %s (%d) ──\n", title, n)
		return
	}
	fmt.Fprintf(w, "\n── %s ──\n", title)
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Truncate(time.Second).String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
