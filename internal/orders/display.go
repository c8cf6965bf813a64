package orders

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FormatPreview renders an order preview as a terminal table.
func FormatPreview(p *OrderPreview) string {
	t := table.NewWriter()
	t.SetTitle("ORDER PREVIEW")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Symbol", p.Request.Symbol},
		{"Side", string(p.Request.Side)},
		{"Quantity", p.Request.Quantity},
		{"Price", fmt.Sprintf("%.2f", p.Request.Price)},
		{"Instrument", string(p.Instrument)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Order value", fmt.Sprintf("%.2f", p.OrderValue)},
		{"Est. margin", fmt.Sprintf("%.2f", p.EstimatedMargin)},
		{"Max loss", fmt.Sprintf("%.2f (%.2f%%)", p.MaxLoss, p.MaxLossPercent)},
		{"Heat", fmt.Sprintf("%.2f%% -> %.2f%%", p.HeatBefore, p.HeatAfter)},
		{"Position size", fmt.Sprintf("%.2f%% (cap %.0f%%)", p.PositionSizePercent, p.MaxPositionPercent)},
		{"Available capital", fmt.Sprintf("%.2f", p.CapitalAvailable)},
	})
	if p.SuggestedQuantity > 0 {
		t.AppendRow(table.Row{"Suggested qty", p.SuggestedQuantity})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Status", string(p.Status)})
	for _, w := range p.Warnings {
		t.AppendRow(table.Row{"⚠️ Warning", w})
	}
	for _, r := range p.BlockReasons {
		t.AppendRow(table.Row{"🚫 Blocked", r})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, WidthMax: 45, Align: text.AlignLeft},
	})

	return t.Render()
}

// FormatStopLosses renders every tracked stop as a table.
func FormatStopLosses(stops []StopLossOrder) string {
	t := table.NewWriter()
	t.SetTitle("STOP LOSSES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Position", "Symbol", "Dir", "Qty", "Entry", "Stop", "Type", "Status"})

	for _, s := range stops {
		t.AppendRow(table.Row{
			shortID(s.PositionID),
			s.Symbol,
			string(s.Direction),
			s.Quantity,
			fmt.Sprintf("%.2f", s.EntryPrice),
			fmt.Sprintf("%.2f", s.StopPrice),
			string(s.Type),
			string(s.Status),
		})
	}
	return t.Render()
}

// FormatOpsSummary renders the operational summary for the CLI.
func FormatOpsSummary(s OpsSummary) string {
	t := table.NewWriter()
	t.SetTitle("TRADING STATUS")
	t.SetStyle(table.StyleRounded)

	blocked := "no"
	if s.Blocked {
		blocked = "YES"
	}
	expiry := "no"
	if s.ExpiryDay {
		expiry = "yes"
	}

	t.AppendRows([]table.Row{
		{"Orders today", fmt.Sprintf("%d (%d remaining)", s.OrdersToday, s.OrdersRemaining)},
		{"Consecutive losses", s.ConsecutiveLosses},
		{"Circuit breaker", s.BreakerStatus},
		{"Portfolio heat", fmt.Sprintf("%.2f%%", s.PortfolioHeat)},
		{"Blocked", blocked},
		{"Expiry day", expiry},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
	})
	return t.Render()
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
