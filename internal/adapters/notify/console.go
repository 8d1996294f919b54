package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/courtbot/internal/domain"
	"github.com/alejandrodnm/courtbot/internal/ports"
)

// Console implementa ports.Notifier escribiendo a stdout. También renderiza
// las tablas de estado del comando `status`.
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

// Notify imprime un mensaje informativo con timestamp.
func (c *Console) Notify(_ context.Context, message string) error {
	fmt.Fprintf(c.out, "[%s] %s\n", time.Now().Format("15:04:05"), message)
	return nil
}

// Alert imprime un mensaje urgente.
func (c *Console) Alert(_ context.Context, message string) error {
	fmt.Fprintf(c.out, "[%s] !! %s\n", time.Now().Format("15:04:05"), message)
	return nil
}

// PrintJobSummary imprime el histograma de estados de jobs para una fecha.
func (c *Console) PrintJobSummary(date string, s domain.JobSummary) {
	fmt.Fprintf(c.out, "\n=== JOBS %s ===\n", date)

	table := tablewriter.NewWriter(c.out)
	table.Header("Pending", "Executing", "DCA", "Executed", "Failed", "Skipped", "Expired")
	table.Append(
		fmt.Sprintf("%d", s.Pending),
		fmt.Sprintf("%d", s.Executing),
		fmt.Sprintf("%d", s.DCAActive),
		fmt.Sprintf("%d", s.Executed),
		fmt.Sprintf("%d", s.Failed),
		fmt.Sprintf("%d", s.Skipped),
		fmt.Sprintf("%d", s.Expired),
	)
	table.Render()
}

// PrintSignals imprime las posiciones abiertas y sus órdenes.
func (c *Console) PrintSignals(signals []domain.Signal) {
	if len(signals) == 0 {
		fmt.Fprintln(c.out, "\n  No open positions.")
		return
	}

	fmt.Fprintf(c.out, "\n=== POSITIONS (%d) ===\n", len(signals))

	table := tablewriter.NewWriter(c.out)
	table.Header("Event", "Team", "Role", "Limit", "VWAP", "Shares", "Cost$", "Order", "Repl")

	for _, s := range signals {
		table.Append(
			truncate(s.EventSlug, 28),
			s.Team,
			string(s.Role),
			fmt.Sprintf("%.2f", s.LimitPrice),
			fmt.Sprintf("%.3f", s.VWAP),
			fmt.Sprintf("%.1f", s.RemainingShares()),
			fmt.Sprintf("$%.2f", s.Cost()),
			string(s.OrderStatus),
			fmt.Sprintf("%d", s.ReplaceCount),
		)
	}
	table.Render()
}

// PrintMerges imprime las operaciones de merge recientes.
func (c *Console) PrintMerges(merges []domain.MergeOperation) {
	if len(merges) == 0 {
		return
	}

	fmt.Fprintf(c.out, "\n=== MERGES (%d) ===\n", len(merges))

	table := tablewriter.NewWriter(c.out)
	table.Header("Event", "Shares", "Combined", "Recovery$", "Gas$", "Net$", "Status")

	for _, m := range merges {
		table.Append(
			truncate(m.EventSlug, 28),
			fmt.Sprintf("%.1f", m.SharesMerged),
			fmt.Sprintf("%.3f", m.CombinedVWAP),
			fmt.Sprintf("$%.2f", m.RecoveryUSD),
			fmt.Sprintf("$%.3f", m.GasCostUSD),
			fmt.Sprintf("$%.2f", m.NetProfitUSD),
			string(m.Status),
		)
	}
	table.Render()
}

// PrintRisk imprime el snapshot de riesgo más reciente.
func (c *Console) PrintRisk(snap domain.RiskSnapshot) {
	fmt.Fprintf(c.out, "\n=== RISK ===\n")
	fmt.Fprintf(c.out, "  Level:        %s (x%.2f)", snap.Level, snap.SizingMultiplier)
	if snap.Degraded {
		fmt.Fprintf(c.out, "  [DEGRADED]")
	}
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  Bankroll:     $%.2f\n", snap.Bankroll)
	fmt.Fprintf(c.out, "  Daily PnL:    $%.2f\n", snap.DailyPnL)
	fmt.Fprintf(c.out, "  Weekly PnL:   $%.2f\n", snap.WeeklyPnL)
	fmt.Fprintf(c.out, "  Consec loss:  %d\n", snap.ConsecLosses)
	fmt.Fprintf(c.out, "  Drawdown:     %.1f%%\n", snap.MaxDrawdownPct*100)
	fmt.Fprintf(c.out, "  Drift |z|max: %.2f\n", snap.DriftZMax)
	if snap.Reason != "" {
		fmt.Fprintf(c.out, "  Reason:       %s\n", snap.Reason)
	}
}

// PrintResults imprime los últimos resultados liquidados.
func (c *Console) PrintResults(results []domain.Result) {
	if len(results) == 0 {
		return
	}

	fmt.Fprintf(c.out, "\n=== RESULTS (%d) ===\n", len(results))

	table := tablewriter.NewWriter(c.out)
	table.Header("Event", "Score", "W/L", "PnL$", "Note")

	var total float64
	wins := 0
	for _, r := range results {
		total += r.PnLUSD
		wl := "L"
		if r.Won {
			wl = "W"
			wins++
		}
		table.Append(
			truncate(r.EventSlug, 28),
			fmt.Sprintf("%d-%d", r.ScoreAway, r.ScoreHome),
			wl,
			fmt.Sprintf("$%.2f", r.PnLUSD),
			r.Note,
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  Total: $%.2f  (%d/%d won)\n", total, wins, len(results))
}

// Multi reparte cada mensaje a varios notificadores. Se usa para consola +
// Telegram a la vez.
type Multi struct {
	targets []ports.Notifier
}

// NewMulti crea un fan-out de notificadores.
func NewMulti(targets ...ports.Notifier) *Multi {
	return &Multi{targets: targets}
}

// Notify reparte el mensaje; los fallos individuales no se propagan.
func (m *Multi) Notify(ctx context.Context, message string) error {
	for _, t := range m.targets {
		_ = t.Notify(ctx, message)
	}
	return nil
}

// Alert reparte la alerta.
func (m *Multi) Alert(ctx context.Context, message string) error {
	for _, t := range m.targets {
		_ = t.Alert(ctx, message)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
