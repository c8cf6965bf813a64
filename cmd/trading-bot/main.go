package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantsphere/fno-trading-bot/internal/broker"
	"github.com/quantsphere/fno-trading-bot/internal/capital"
	"github.com/quantsphere/fno-trading-bot/internal/clock"
	"github.com/quantsphere/fno-trading-bot/internal/config"
	"github.com/quantsphere/fno-trading-bot/internal/logger"
	"github.com/quantsphere/fno-trading-bot/internal/monitoring"
	"github.com/quantsphere/fno-trading-bot/internal/notifications"
	"github.com/quantsphere/fno-trading-bot/internal/orders"
	"github.com/quantsphere/fno-trading-bot/internal/risk"
	"github.com/quantsphere/fno-trading-bot/internal/rules"
	"github.com/quantsphere/fno-trading-bot/internal/safety"
)

// ControlPlane wires the risk components and the order manager together for
// a live session.
type ControlPlane struct {
	config   *config.Config
	capital  capital.Service
	breaker  *risk.CircuitBreaker
	drawdown *risk.DrawdownManager
	heat     *risk.HeatMonitor
	enforcer *rules.Enforcer
	stops    *orders.StopLossManager
	manager  *orders.Manager
	notifier notifications.Notifier
	health   *monitoring.HealthChecker
	session  *logger.SessionLogger
}

func NewControlPlane(cfg *config.Config, b broker.Broker, notifier notifications.Notifier) (*ControlPlane, error) {
	clk := clock.Real()

	capSvc, err := capital.NewSQLiteService(cfg.Capital.DatabasePath, cfg.Capital.Initial)
	if err != nil {
		return nil, fmt.Errorf("failed to open capital ledger: %w", err)
	}

	snap, err := capSvc.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to read capital: %w", err)
	}

	breaker, err := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		Capital:          snap.Total,
		DailyLossPercent: cfg.Risk.DailyLossPercent,
		OverrideHash:     cfg.Risk.OverridePasswordSHA,
		Clock:            clk,
	})
	if err != nil {
		return nil, err
	}

	drawdown, err := risk.NewDrawdownManager(snap.Total, clk)
	if err != nil {
		return nil, err
	}

	heat, err := risk.NewHeatMonitor(snap.Total, cfg.Risk.MaxPositionHeat, cfg.Risk.MaxPortfolioHeat)
	if err != nil {
		return nil, err
	}

	enforcerCfg := rules.DefaultEnforcerConfig()
	enforcerCfg.MaxTradesPerDay = cfg.Rules.MaxTradesPerDay
	enforcerCfg.MaxConsecutiveLosses = cfg.Rules.MaxConsecutiveLosses
	enforcerCfg.DailyLossLimit = cfg.Rules.DailyLossLimit
	enforcerCfg.RevengeCooldown = cfg.Rules.RevengeCooldown
	enforcerCfg.MinTradeSpacing = cfg.Rules.MinTradeSpacing
	enforcerCfg.MaxPortfolioHeat = cfg.Risk.MaxPortfolioHeat
	enforcerCfg.Clock = clk
	enforcer := rules.NewEnforcer(enforcerCfg)

	sizer, err := risk.NewPositionSizer(snap.Total)
	if err != nil {
		return nil, err
	}

	stops := orders.NewStopLossManager(b, clk)
	stops.ApplyStopLossOverrides(cfg.Risk.DefaultStopLoss, cfg.Risk.MaxStopLoss)

	auditLog, err := orders.NewSQLiteAuditLog(cfg.Capital.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	managerCfg := orders.DefaultManagerConfig()
	managerCfg.MaxOrdersPerDay = cfg.Orders.MaxOrdersPerDay
	managerCfg.MaxConsecutiveLosses = cfg.Rules.MaxConsecutiveLosses
	managerCfg.Clock = clk

	manager, err := orders.NewManager(managerCfg, orders.ManagerDeps{
		Capital:  capSvc,
		Breaker:  breaker,
		Drawdown: drawdown,
		Heat:     heat,
		Enforcer: enforcer,
		Sizer:    sizer,
		Stops:    stops,
		Broker:   b,
		Limiter:  safety.NewRateLimiter("orders", cfg.Orders.RatePerMinute, cfg.Orders.RatePerMinute/6+1),
		Audit:    auditLog,
	})
	if err != nil {
		return nil, err
	}

	session, err := logger.NewSessionLogger("logs")
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	cp := &ControlPlane{
		config:   cfg,
		capital:  capSvc,
		breaker:  breaker,
		drawdown: drawdown,
		heat:     heat,
		enforcer: enforcer,
		stops:    stops,
		manager:  manager,
		notifier: notifier,
		health:   monitoring.NewHealthChecker(),
		session:  session,
	}
	cp.registerAlerts()
	return cp, nil
}

// registerAlerts routes breaker and drawdown transitions to the notifier.
// Callbacks fire outside the component locks, so a network send is safe.
func (cp *ControlPlane) registerAlerts() {
	cp.breaker.RegisterCallback(risk.StatusCaution, func(s risk.BreakerStatus) {
		cp.alert("warning", "Daily loss reached 50% of the limit")
	})
	cp.breaker.RegisterCallback(risk.StatusWarning, func(s risk.BreakerStatus) {
		cp.alert("warning", "Daily loss reached 80% of the limit")
	})
	cp.breaker.RegisterCallback(risk.StatusTriggered, func(s risk.BreakerStatus) {
		cp.alert("error", "Circuit breaker TRIGGERED: new orders blocked")
	})
	cp.breaker.RegisterCallback(risk.StatusEmergency, func(s risk.BreakerStatus) {
		cp.alert("error", "EMERGENCY exit triggered: squaring off everything")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			results := cp.stops.EmergencySquareOffAll(ctx)
			for _, r := range results {
				if r.Status == "failed" {
					log.Printf("square-off failed for %s: %v", r.PositionID, r.Err)
				}
			}
		}()
	})

	cp.drawdown.SetSeverityCallback(func(from, to risk.DrawdownSeverity, ddPct float64) {
		level := "warning"
		if to >= risk.DrawdownCritical {
			level = "error"
		}
		cp.alert(level, fmt.Sprintf("Drawdown %s -> %s at %.1f%%", from, to, ddPct))
	})

	cp.manager.SetExecutionListener(func(p *orders.OrderPreview, ack *broker.OrderAck) {
		cp.session.LogExecution(p.Request.Symbol, string(p.Request.Side),
			p.Request.Quantity, p.Request.Price, ack.BrokerOrderID)
	})
	cp.manager.SetTradeClosedListener(func(orderID string, pnl float64) {
		cp.session.LogTradeResult(orderID, pnl)
	})
}

func (cp *ControlPlane) alert(level, message string) {
	cp.session.Risk("%s", message)
	if err := cp.notifier.SendAlert(level, message); err != nil {
		log.Printf("failed to send alert: %v", err)
	}
}

// refreshMetrics pushes current risk readings to Prometheus.
func (cp *ControlPlane) refreshMetrics() {
	snap := cp.breaker.Snapshot()
	monitoring.UpdateBreakerStatus(int(snap.Status))
	monitoring.UpdateDailyLoss(snap.LossPercent)
	monitoring.UpdateHeat(cp.heat.Heat())
	monitoring.UpdateDrawdown(cp.drawdown.Report().DrawdownPercent)
	monitoring.UpdateActiveStops(cp.stops.Summary().Total)
	cp.health.SetBreakerStatus(snap.Status.String())
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	limits, err := config.LoadRiskLimits(cfg.Risk.LimitsFile)
	if err != nil {
		log.Fatalf("Failed to load risk limits: %v", err)
	}
	limits.Apply(cfg)

	var notifier notifications.Notifier = notifications.NoopNotifier{}
	if cfg.Notifications.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(
			cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	} else {
		log.Println("Telegram notifications disabled (no token configured)")
	}

	// The broker gateway is an external collaborator; until one is wired in
	// the process runs against the paper broker.
	gateway := broker.NewPaperBroker()

	cp, err := NewControlPlane(cfg, gateway, notifier)
	if err != nil {
		log.Fatalf("Failed to build control plane: %v", err)
	}
	cp.health.SetBrokerOK(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics and health endpoints
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.NewMetricsHandler())
		addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
		log.Printf("Metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/health", cp.health)
		addr := fmt.Sprintf(":%d", cfg.Monitoring.HealthPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Health server stopped: %v", err)
		}
	}()

	// Order entry API
	api := newAPIServer(cp.manager)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Orders.APIPort)
		log.Printf("Order API listening on %s", addr)
		if err := http.ListenAndServe(addr, api.handler()); err != nil {
			log.Printf("Order API stopped: %v", err)
		}
	}()

	// Periodic metrics refresh
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cp.refreshMetrics()
			}
		}
	}()

	log.Println("Risk control plane started")
	cp.session.Info("risk control plane started, session log at %s", cp.session.Path())
	cp.alert("info", "Risk control plane started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	if err := cp.session.Close(); err != nil {
		log.Printf("failed to close session log: %v", err)
	}
}
