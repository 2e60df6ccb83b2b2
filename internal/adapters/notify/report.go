package notify

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// ReportInput agrupa los datos del informe operativo (-report).
type ReportInput struct {
	Risk       domain.RiskState
	Exposure   domain.Exposure
	Placements []domain.PlacementResult
	Daily      []domain.DailyRecord
	Now        time.Time
}

// PrintReport imprime estado de riesgo, alertas, historial diario y los
// últimos intentos de colocación.
func (c *Console) PrintReport(in ReportInput) {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	c.banner("DELTAMAKER REPORT")
	c.printRisk(in.Risk, in.Now)
	c.printExposure(in.Exposure)
	c.printAlerts(in.Risk.Alerts, in.Risk.DroppedAlerts)
	c.printDaily(in.Daily)
	c.printPlacements(in.Placements)
	fmt.Fprintln(c.out)
}

func (c *Console) printRisk(st domain.RiskState, now time.Time) {
	fmt.Fprintf(c.out, "  Trading day:        %s\n", st.TradingDay)
	fmt.Fprintf(c.out, "  Daily P&L:          $%s\n", st.DailyPnL.StringFixed(2))
	fmt.Fprintf(c.out, "  Execution failures: %d\n", st.ExecutionFailures)
	fmt.Fprintf(c.out, "  Trading:            ")
	if st.Halted {
		fmt.Fprintf(c.out, "HALTED (%s: %s, %s ago)\n", st.HaltKind, st.HaltReason, ago(st.HaltedAt, now))
	} else {
		fmt.Fprintf(c.out, "OK\n")
	}
	if st.LossLimitOverridden {
		fmt.Fprintf(c.out, "  Loss limit:         overridden by operator until next loss\n")
	}
}

func (c *Console) printExposure(e domain.Exposure) {
	section(c.out, "OPEN POSITIONS", e.Positions)
	if e.Positions == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}
	fmt.Fprintf(c.out, "  Delta %.2f shares | YES %s | NO %s | total %s\n",
		e.Delta, money(e.Yes), money(e.No), money(e.Total))
}

func (c *Console) printAlerts(alerts []domain.Alert, dropped int) {
	section(c.out, "ALERTS", len(alerts))
	if len(alerts) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Level", "Category", "Message")
	start := max(0, len(alerts)-20)
	for _, a := range alerts[start:] {
		table.Append(a.Timestamp.UTC().Format("01-02 15:04:05"), string(a.Level), a.Category, truncate(a.Message, 60))
	}
	table.Render()
	if dropped > 0 {
		fmt.Fprintf(c.out, "  (%d older alerts dropped)\n", dropped)
	}
}

func (c *Console) printDaily(days []domain.DailyRecord) {
	if len(days) == 0 {
		return
	}
	section(c.out, "DAILY BREAKDOWN", -1)
	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "P&L", "Exec failures", "Halted")
	for _, d := range days {
		halted := ""
		if d.Halted {
			halted = truncate(d.HaltReason, 30)
			if halted == "" {
				halted = "yes"
			}
		}
		table.Append(d.Day, "$"+d.PnL.StringFixed(2), fmt.Sprintf("%d", d.ExecutionFailures), halted)
	}
	table.Render()
}

func (c *Console) printPlacements(ps []domain.PlacementResult) {
	section(c.out, "PLACEMENTS", len(ps))
	if len(ps) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Started", "Market", "Outcome", "Size", "YES", "NO", "Filled", "Reason")
	exposed := 0
	for _, p := range ps {
		if p.Outcome.LeavesExposure() {
			exposed++
		}
		table.Append(
			p.StartedAt.UTC().Format("01-02 15:04:05"),
			truncate(p.Request.MarketID, 20),
			string(p.Outcome),
			fmt.Sprintf("%.0f", p.Request.Size),
			fmt.Sprintf("%.2f", p.Request.YesPrice),
			fmt.Sprintf("%.2f", p.Request.NoPrice),
			fmt.Sprintf("%.1f/%.1f", p.YesFilled, p.NoFilled),
			truncate(p.Reason, 40),
		)
	}
	table.Render()
	if exposed > 0 {
		fmt.Fprintf(c.out, "  ⚠ %d placement(s) may have left a resting order on the venue\n", exposed)
	}
}
