// riskctl is the operator CLI: it previews orders against current limits,
// shows the daily discipline summary and inspects the capital ledger and
// audit trail without touching a live session's state.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"

	"github.com/quantsphere/fno-trading-bot/internal/broker"
	"github.com/quantsphere/fno-trading-bot/internal/capital"
	"github.com/quantsphere/fno-trading-bot/internal/clock"
	"github.com/quantsphere/fno-trading-bot/internal/config"
	"github.com/quantsphere/fno-trading-bot/internal/orders"
	"github.com/quantsphere/fno-trading-bot/internal/risk"
	"github.com/quantsphere/fno-trading-bot/internal/rules"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.Load()
	limits, err := config.LoadRiskLimits(cfg.Risk.LimitsFile)
	if err != nil {
		log.Fatalf("Failed to load risk limits: %v", err)
	}
	limits.Apply(cfg)

	switch os.Args[1] {
	case "status":
		runStatus(cfg)
	case "preview":
		runPreview(cfg, os.Args[2:])
	case "ledger":
		runLedger(cfg)
	case "audit":
		runAudit(cfg)
	case "rules":
		runRules(cfg)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: riskctl <command>")
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  status    circuit breaker, heat and drawdown snapshot")
	fmt.Println("  preview   dry-run an order through every gate")
	fmt.Println("  ledger    recent capital ledger entries")
	fmt.Println("  audit     recent order audit entries")
	fmt.Println("  rules     discipline limits in effect")
}

// buildPlane assembles a read-only control plane over the shared database.
func buildPlane(cfg *config.Config) (*orders.Manager, capital.Service, *risk.CircuitBreaker) {
	capSvc, err := capital.NewSQLiteService(cfg.Capital.DatabasePath, cfg.Capital.Initial)
	if err != nil {
		log.Fatalf("Failed to open capital ledger: %v", err)
	}
	snap, err := capSvc.Snapshot()
	if err != nil {
		log.Fatalf("Failed to read capital: %v", err)
	}

	clk := clock.Real()
	breaker, err := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		Capital:          snap.Total,
		DailyLossPercent: cfg.Risk.DailyLossPercent,
		OverrideHash:     cfg.Risk.OverridePasswordSHA,
		Clock:            clk,
	})
	if err != nil {
		log.Fatalf("Failed to build circuit breaker: %v", err)
	}
	heat, err := risk.NewHeatMonitor(snap.Total, cfg.Risk.MaxPositionHeat, cfg.Risk.MaxPortfolioHeat)
	if err != nil {
		log.Fatalf("Failed to build heat monitor: %v", err)
	}
	drawdown, err := risk.NewDrawdownManager(snap.Total, clk)
	if err != nil {
		log.Fatalf("Failed to build drawdown manager: %v", err)
	}

	enforcerCfg := rules.DefaultEnforcerConfig()
	enforcerCfg.Clock = clk
	enforcer := rules.NewEnforcer(enforcerCfg)

	sizer, err := risk.NewPositionSizer(snap.Total)
	if err != nil {
		log.Fatalf("Failed to build position sizer: %v", err)
	}

	stops := orders.NewStopLossManager(nil, clk)
	stops.ApplyStopLossOverrides(cfg.Risk.DefaultStopLoss, cfg.Risk.MaxStopLoss)

	managerCfg := orders.DefaultManagerConfig()
	managerCfg.Clock = clk
	manager, err := orders.NewManager(managerCfg, orders.ManagerDeps{
		Capital:  capSvc,
		Breaker:  breaker,
		Drawdown: drawdown,
		Heat:     heat,
		Enforcer: enforcer,
		Sizer:    sizer,
		Stops:    stops,
		Broker:   broker.NewPaperBroker(),
		Audit:    orders.NewMemoryAuditLog(),
	})
	if err != nil {
		log.Fatalf("Failed to build order manager: %v", err)
	}
	return manager, capSvc, breaker
}

func runStatus(cfg *config.Config) {
	manager, _, breaker := buildPlane(cfg)

	fmt.Println(orders.FormatOpsSummary(manager.Summary()))

	snap := breaker.Snapshot()
	pct, severity := breaker.Progress()

	t := table.NewWriter()
	t.SetTitle("CIRCUIT BREAKER")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Status", snap.Status.String()},
		{"Daily loss limit", fmt.Sprintf("%.2f", snap.DailyLossLimit)},
		{"Loss of limit", fmt.Sprintf("%.1f%% (%s)", pct, severity)},
		{"Distance to limit", fmt.Sprintf("%.2f", snap.DistanceToLimit)},
		{"Breaches today", snap.BreachCount},
	})
	fmt.Println(t.Render())
}

func runPreview(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	symbol := fs.String("symbol", "", "instrument symbol")
	qty := fs.Int("qty", 0, "quantity")
	price := fs.Float64("price", 0, "limit price")
	stop := fs.Float64("stop", 0, "stop price (optional)")
	sell := fs.Bool("sell", false, "sell side")
	fs.Parse(args)

	if *symbol == "" || *qty <= 0 || *price <= 0 {
		fmt.Println("preview requires -symbol, -qty and -price")
		os.Exit(1)
	}

	manager, _, _ := buildPlane(cfg)

	side := broker.SideBuy
	if *sell {
		side = broker.SideSell
	}
	preview, err := manager.CreateOrderPreview(orders.PreviewRequest{
		Symbol:    *symbol,
		Side:      side,
		Quantity:  *qty,
		Price:     *price,
		StopPrice: *stop,
		Product:   broker.ProductIntraday,
	})
	if err != nil {
		log.Fatalf("Preview failed: %v", err)
	}
	fmt.Println(orders.FormatPreview(preview))
}

func runLedger(cfg *config.Config) {
	_, capSvc, _ := buildPlane(cfg)

	store, ok := capSvc.(*capital.SQLiteService)
	if !ok {
		log.Fatal("ledger command requires the SQLite capital store")
	}
	entries, err := store.History(20)
	if err != nil {
		log.Fatalf("Failed to read ledger: %v", err)
	}

	t := table.NewWriter()
	t.SetTitle("CAPITAL LEDGER")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"When", "Type", "Amount", "Reason"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.Timestamp.Format(time.DateTime),
			string(e.Type),
			fmt.Sprintf("%.2f", e.Amount),
			e.Reason,
		})
	}
	fmt.Println(t.Render())
}

func runAudit(cfg *config.Config) {
	auditLog, err := orders.NewSQLiteAuditLog(cfg.Capital.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer auditLog.Close()

	t := table.NewWriter()
	t.SetTitle("ORDER AUDIT")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"When", "Order", "Action"})
	for _, e := range auditLog.Recent(20) {
		t.AppendRow(table.Row{
			e.Timestamp.Format(time.DateTime),
			e.OrderID,
			e.Action,
		})
	}
	fmt.Println(t.Render())
}

func runRules(cfg *config.Config) {
	t := table.NewWriter()
	t.SetTitle("DISCIPLINE LIMITS")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Max trades/day", cfg.Rules.MaxTradesPerDay},
		{"Max orders/day", cfg.Orders.MaxOrdersPerDay},
		{"Max consecutive losses", cfg.Rules.MaxConsecutiveLosses},
		{"Daily loss limit", fmt.Sprintf("%.2f", cfg.Rules.DailyLossLimit)},
		{"Daily loss percent", fmt.Sprintf("%.2f%%", cfg.Risk.DailyLossPercent)},
		{"Revenge cooldown", cfg.Rules.RevengeCooldown.String()},
		{"Min trade spacing", cfg.Rules.MinTradeSpacing.String()},
		{"Per-position heat", fmt.Sprintf("%.2f%%", cfg.Risk.MaxPositionHeat)},
		{"Portfolio heat", fmt.Sprintf("%.2f%%", cfg.Risk.MaxPortfolioHeat)},
	})
	fmt.Println(t.Render())
}
