package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantsphere/fno-trading-bot/internal/broker"
	"github.com/quantsphere/fno-trading-bot/internal/capital"
	"github.com/quantsphere/fno-trading-bot/internal/clock"
	traderr "github.com/quantsphere/fno-trading-bot/internal/errors"
	"github.com/quantsphere/fno-trading-bot/internal/risk"
	"github.com/quantsphere/fno-trading-bot/internal/rules"
	"github.com/quantsphere/fno-trading-bot/internal/safety"
)

// ValidationStatus is the overall verdict of a preview
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "VALID"
	ValidationWarning ValidationStatus = "WARNING"
	ValidationBlocked ValidationStatus = "BLOCKED"
)

// Margin factors by product and instrument class.
const (
	intradayMarginFactor = 0.25
	futuresMarginFactor  = 0.15
	shortOptionLossMult  = 3.0
	adverseMoveFactor    = 0.05
)

// High-value warning tiers as percent of total capital.
const (
	highValueWarnPct   = 5.0
	highValueDangerPct = 8.0
)

// PreviewRequest describes a proposed order.
type PreviewRequest struct {
	Symbol    string
	Side      broker.OrderSide
	Quantity  int
	Price     float64
	StopPrice float64 // optional, sharpens the max-loss estimate
	Product   broker.ProductType
}

// OrderPreview is an immutable snapshot of everything known about a proposed
// order at preview time. It is consumed at most once by execution.
type OrderPreview struct {
	ID         string
	Request    PreviewRequest
	Instrument InstrumentType

	OrderValue      float64
	EstimatedMargin float64
	MaxLoss         float64
	MaxLossPercent  float64

	CapitalTotal     float64
	CapitalAvailable float64
	HeatBefore       float64
	HeatAfter        float64

	PositionSizePercent float64
	MaxPositionPercent  float64
	SizeMultiplier      float64
	SuggestedQuantity   int

	Status       ValidationStatus
	Warnings     []string
	BlockReasons []string

	CreatedAt time.Time
}

// ManagerConfig holds the façade's own limits.
type ManagerConfig struct {
	MaxOrdersPerDay      int
	MaxConsecutiveLosses int
	RiskPercentPerTrade  float64
	ExpiryWeekday        time.Weekday
	Clock                clock.Clock
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxOrdersPerDay:      20,
		MaxConsecutiveLosses: 3,
		RiskPercentPerTrade:  1.0,
		ExpiryWeekday:        time.Thursday,
	}
}

// Manager composes the risk components into the preview, confirm and execute
// pipeline. It is the single entry point for placing anything.
type Manager struct {
	mu                sync.Mutex
	config            ManagerConfig
	day               time.Time
	ordersToday       int
	consecutiveLosses int
	dailyPnL          float64
	executedPreviews  map[string]bool

	capital  capital.Service
	breaker  *risk.CircuitBreaker
	drawdown *risk.DrawdownManager
	heat     *risk.HeatMonitor
	enforcer *rules.Enforcer
	sizer    *risk.PositionSizer
	stops    *StopLossManager
	broker   broker.Broker
	limiter  *safety.RateLimiter
	audit    AuditLog

	onExecuted    func(preview *OrderPreview, ack *broker.OrderAck)
	onTradeClosed func(orderID string, pnl float64)
}

// ManagerDeps carries the collaborators the manager composes.
type ManagerDeps struct {
	Capital  capital.Service
	Breaker  *risk.CircuitBreaker
	Drawdown *risk.DrawdownManager
	Heat     *risk.HeatMonitor
	Enforcer *rules.Enforcer
	Sizer    *risk.PositionSizer
	Stops    *StopLossManager
	Broker   broker.Broker
	Limiter  *safety.RateLimiter
	Audit    AuditLog
}

func NewManager(config ManagerConfig, deps ManagerDeps) (*Manager, error) {
	if deps.Capital == nil {
		return nil, fmt.Errorf("capital service is required")
	}
	if deps.Breaker == nil {
		return nil, fmt.Errorf("circuit breaker is required")
	}
	if deps.Heat == nil {
		return nil, fmt.Errorf("heat monitor is required")
	}
	if deps.Enforcer == nil {
		return nil, fmt.Errorf("rules enforcer is required")
	}
	if deps.Audit == nil {
		deps.Audit = NewMemoryAuditLog()
	}
	if config.MaxOrdersPerDay <= 0 {
		config.MaxOrdersPerDay = 20
	}
	if config.MaxConsecutiveLosses <= 0 {
		config.MaxConsecutiveLosses = 3
	}
	if config.RiskPercentPerTrade <= 0 {
		config.RiskPercentPerTrade = 1.0
	}
	if config.ExpiryWeekday == time.Sunday {
		config.ExpiryWeekday = time.Thursday
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	return &Manager{
		config:           config,
		day:              config.Clock.Now(),
		executedPreviews: make(map[string]bool),
		capital:          deps.Capital,
		breaker:          deps.Breaker,
		drawdown:         deps.Drawdown,
		heat:             deps.Heat,
		enforcer:         deps.Enforcer,
		sizer:            deps.Sizer,
		stops:            deps.Stops,
		broker:           deps.Broker,
		limiter:          deps.Limiter,
		audit:            deps.Audit,
	}, nil
}

// CreateOrderPreview computes margin, worst-case loss and heat impact from a
// single capital snapshot, then runs every gate. The preview is a pure
// function of the request and current external state.
func (m *Manager) CreateOrderPreview(req PreviewRequest) (*OrderPreview, error) {
	if err := validatePreviewRequest(req); err != nil {
		return nil, err
	}

	snap, err := m.capital.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to read capital: %w", err)
	}

	instrument := InferInstrumentType(req.Symbol)
	orderValue := float64(req.Quantity) * req.Price
	margin := estimateMargin(instrument, req.Product, req.Side, orderValue)
	maxLoss := estimateMaxLoss(instrument, req.Side, req, orderValue)

	now := m.config.Clock.Now()
	heatBefore := m.heat.Heat()
	preview := &OrderPreview{
		ID:               uuid.NewString(),
		Request:          req,
		Instrument:       instrument,
		OrderValue:       orderValue,
		EstimatedMargin:  margin,
		MaxLoss:          maxLoss,
		MaxLossPercent:   maxLoss / snap.Total * 100,
		CapitalTotal:     snap.Total,
		CapitalAvailable: snap.Available,
		HeatBefore:       heatBefore,
		HeatAfter:        heatBefore + maxLoss/snap.Total*100,

		PositionSizePercent: orderValue / snap.Total * 100,
		MaxPositionPercent:  MaxPositionPercent(instrument),
		SizeMultiplier:      1.0,

		Status:    ValidationValid,
		CreatedAt: now,
	}
	if m.drawdown != nil {
		preview.SizeMultiplier = m.drawdown.SizeMultiplier()
	}
	if m.sizer != nil && req.StopPrice > 0 && req.StopPrice != req.Price {
		if sized, err := m.sizer.FixedFractional(m.config.RiskPercentPerTrade, req.Price, req.StopPrice, 1); err == nil {
			preview.SuggestedQuantity = int(float64(sized.Quantity) * preview.SizeMultiplier)
		}
	}

	m.runGates(preview, snap, now)

	if len(preview.BlockReasons) > 0 {
		preview.Status = ValidationBlocked
	} else if len(preview.Warnings) > 0 {
		preview.Status = ValidationWarning
	}
	return preview, nil
}

func validatePreviewRequest(req PreviewRequest) error {
	v := safety.NewValidator()
	if req.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", req.Quantity)
	}
	if result := v.ValidatePrice(req.Price); !result.Valid {
		return fmt.Errorf("invalid price: %s", result.Message)
	}
	if req.StopPrice != 0 {
		if result := v.ValidatePrice(req.StopPrice); !result.Valid {
			return fmt.Errorf("invalid stop price: %s", result.Message)
		}
	}
	if req.Side != broker.SideBuy && req.Side != broker.SideSell {
		return fmt.Errorf("side must be BUY or SELL, got %q", req.Side)
	}
	return nil
}

// estimateMargin approximates the broker margin requirement: options block
// the full premium, futures a SPAN-like fraction of notional, intraday
// equity a quarter of order value.
func estimateMargin(instrument InstrumentType, product broker.ProductType, side broker.OrderSide, orderValue float64) float64 {
	switch {
	case instrument.IsOption():
		if side == broker.SideSell {
			return orderValue * shortOptionLossMult
		}
		return orderValue
	case instrument.IsFuture():
		return orderValue * futuresMarginFactor
	case product == broker.ProductIntraday:
		return orderValue * intradayMarginFactor
	default:
		return orderValue
	}
}

// estimateMaxLoss computes the worst plausible loss: a long option loses its
// premium, a short option is modeled at three premiums, everything else uses
// the stop distance when given or a flat adverse move.
func estimateMaxLoss(instrument InstrumentType, side broker.OrderSide, req PreviewRequest, orderValue float64) float64 {
	if instrument.IsOption() {
		if side == broker.SideBuy {
			return orderValue
		}
		return orderValue * shortOptionLossMult
	}
	if req.StopPrice > 0 {
		distance := req.Price - req.StopPrice
		if side == broker.SideSell {
			distance = req.StopPrice - req.Price
		}
		if distance > 0 {
			return distance * float64(req.Quantity)
		}
	}
	return orderValue * adverseMoveFactor
}

func (m *Manager) runGates(p *OrderPreview, snap capital.Snapshot, now time.Time) {
	if p.EstimatedMargin > snap.Available {
		p.BlockReasons = append(p.BlockReasons,
			fmt.Sprintf("insufficient margin: need %.2f, available %.2f",
				p.EstimatedMargin, snap.Available))
	}

	if ok, reason := m.heat.CanAdd(p.MaxLoss); !ok {
		p.BlockReasons = append(p.BlockReasons, reason)
	}

	if p.PositionSizePercent > p.MaxPositionPercent {
		p.BlockReasons = append(p.BlockReasons,
			fmt.Sprintf("position size %.1f%% of capital exceeds the %.0f%% cap for %s",
				p.PositionSizePercent, p.MaxPositionPercent, p.Instrument))
	}

	m.mu.Lock()
	m.rolloverLocked(now)
	ordersToday := m.ordersToday
	losses := m.consecutiveLosses
	m.mu.Unlock()

	if ordersToday >= m.config.MaxOrdersPerDay {
		p.BlockReasons = append(p.BlockReasons,
			fmt.Sprintf("daily order cap reached (%d of %d)", ordersToday, m.config.MaxOrdersPerDay))
	}
	if losses >= m.config.MaxConsecutiveLosses {
		p.BlockReasons = append(p.BlockReasons,
			fmt.Sprintf("%d consecutive losses, trading suspended", losses))
	}

	if m.breaker.IsBlocked() {
		p.BlockReasons = append(p.BlockReasons,
			fmt.Sprintf("circuit breaker %s", m.breaker.Status()))
	}

	if m.drawdown != nil {
		if ok, reason := m.drawdown.CanTrade(); !ok {
			p.BlockReasons = append(p.BlockReasons, reason)
		}
	}

	if d := m.enforcer.CanTrade(p.HeatBefore); !d.Allowed {
		p.BlockReasons = append(p.BlockReasons, d.Reason)
	}

	if p.Instrument.IsOption() && now.Weekday() == m.config.ExpiryWeekday {
		p.Warnings = append(p.Warnings, "expiry day: expect rapid premium decay")
		if now.Hour() >= 14 && (now.Hour() > 14 || now.Minute() >= 30) {
			p.Warnings = append(p.Warnings, "last hour of expiry: severe theta and liquidity risk")
		}
	}

	valuePct := p.OrderValue / snap.Total * 100
	if valuePct >= highValueDangerPct {
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("order value is %.1f%% of capital, above the %.0f%% danger line",
				valuePct, highValueDangerPct))
	} else if valuePct >= highValueWarnPct {
		p.Warnings = append(p.Warnings,
			fmt.Sprintf("order value is %.1f%% of capital", valuePct))
	}
}

// ExecuteConfirmedOrder places a previewed order. It refuses unconfirmed or
// blocked previews and a preview that was already executed, and writes an
// audit entry for every path.
func (m *Manager) ExecuteConfirmedOrder(ctx context.Context, preview *OrderPreview, userConfirmed bool) (*broker.OrderAck, error) {
	if preview == nil {
		return nil, fmt.Errorf("preview is required")
	}

	details := map[string]interface{}{
		"symbol":   preview.Request.Symbol,
		"quantity": preview.Request.Quantity,
		"price":    preview.Request.Price,
		"status":   string(preview.Status),
	}

	if !userConfirmed {
		m.audit.Record(preview.ID, "EXECUTE_REFUSED", withReason(details, "not confirmed by user"))
		return nil, fmt.Errorf("order not confirmed by user")
	}
	if preview.Status == ValidationBlocked {
		m.audit.Record(preview.ID, "EXECUTE_REFUSED", withReason(details, "preview is blocked"))
		return nil, fmt.Errorf("cannot execute a blocked order: %v", preview.BlockReasons)
	}

	m.mu.Lock()
	if m.executedPreviews[preview.ID] {
		m.mu.Unlock()
		m.audit.Record(preview.ID, "EXECUTE_REFUSED", withReason(details, "preview already executed"))
		return nil, fmt.Errorf("preview %s was already executed", preview.ID)
	}
	m.executedPreviews[preview.ID] = true
	m.mu.Unlock()

	if m.limiter != nil && !m.limiter.Allow() {
		m.audit.Record(preview.ID, "EXECUTE_REFUSED", withReason(details, "order rate limit"))
		return nil, traderr.RateLimited("orders", "execute")
	}

	if m.broker == nil {
		m.audit.Record(preview.ID, "EXECUTE_FAILED", withReason(details, "no broker connected"))
		return nil, fmt.Errorf("no broker connected")
	}

	ack, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:     preview.Request.Symbol,
		Side:       preview.Request.Side,
		Type:       broker.OrderTypeLimit,
		Product:    preview.Request.Product,
		Quantity:   preview.Request.Quantity,
		LimitPrice: preview.Request.Price,
		Tag:        "MGR:" + preview.ID,
	})
	if err != nil {
		m.audit.Record(preview.ID, "EXECUTE_FAILED", withReason(details, err.Error()))
		return nil, traderr.BrokerRejection("orders", "execute", err)
	}

	m.mu.Lock()
	now := m.config.Clock.Now()
	m.rolloverLocked(now)
	m.ordersToday++
	onExecuted := m.onExecuted
	m.mu.Unlock()

	details["broker_order_id"] = ack.BrokerOrderID
	m.audit.Record(preview.ID, "EXECUTE_CONFIRMED", details)
	if onExecuted != nil {
		onExecuted(preview, ack)
	}
	return ack, nil
}

// SetExecutionListener registers a callback invoked after every confirmed
// execution. The callback runs outside the manager lock.
func (m *Manager) SetExecutionListener(fn func(preview *OrderPreview, ack *broker.OrderAck)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExecuted = fn
}

// SetTradeClosedListener registers a callback invoked after every recorded
// trade result. The callback runs outside the manager lock.
func (m *Manager) SetTradeClosedListener(fn func(orderID string, pnl float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTradeClosed = fn
}

// RecordTradeResult feeds a realized trade result back into the loss
// counters, the capital ledger, the rules enforcer and the circuit breaker.
func (m *Manager) RecordTradeResult(orderID string, pnl float64) error {
	m.mu.Lock()
	now := m.config.Clock.Now()
	m.rolloverLocked(now)
	if pnl < 0 {
		m.consecutiveLosses++
	} else {
		m.consecutiveLosses = 0
	}
	m.dailyPnL += pnl
	dayPnL := m.dailyPnL
	onClosed := m.onTradeClosed
	m.mu.Unlock()

	if err := m.capital.RecordTradePnL(pnl, orderID); err != nil {
		return fmt.Errorf("failed to record trade P&L: %w", err)
	}
	m.enforcer.RecordTrade(pnl)
	m.breaker.UpdatePnL(dayPnL, 0)

	snap, err := m.capital.Snapshot()
	if err == nil {
		if m.drawdown != nil {
			m.drawdown.UpdateCapital(snap.Total)
		}
		if m.sizer != nil && snap.Total > 0 {
			m.sizer.UpdateCapital(snap.Total)
		}
	}

	m.audit.Record(orderID, "TRADE_CLOSED", map[string]interface{}{"pnl": pnl})
	if onClosed != nil {
		onClosed(orderID, pnl)
	}
	return nil
}

// ResetConsecutiveLosses clears the loss streak. The reason is mandatory and
// audited.
func (m *Manager) ResetConsecutiveLosses(reason string) error {
	if reason == "" {
		return fmt.Errorf("reset reason is mandatory")
	}
	m.mu.Lock()
	m.consecutiveLosses = 0
	m.mu.Unlock()
	m.enforcer.ResetConsecutiveLosses()
	m.audit.Record("", "LOSS_STREAK_RESET", map[string]interface{}{"reason": reason})
	return nil
}

// OpsSummary is the operational snapshot exposed to CLI tooling.
type OpsSummary struct {
	OrdersToday       int
	OrdersRemaining   int
	ConsecutiveLosses int
	Blocked           bool
	BreakerStatus     string
	PortfolioHeat     float64
	ExpiryDay         bool
}

func (m *Manager) Summary() OpsSummary {
	m.mu.Lock()
	now := m.config.Clock.Now()
	m.rolloverLocked(now)
	ordersToday := m.ordersToday
	losses := m.consecutiveLosses
	m.mu.Unlock()

	remaining := m.config.MaxOrdersPerDay - ordersToday
	if remaining < 0 {
		remaining = 0
	}

	return OpsSummary{
		OrdersToday:       ordersToday,
		OrdersRemaining:   remaining,
		ConsecutiveLosses: losses,
		Blocked:           m.breaker.IsBlocked() || losses >= m.config.MaxConsecutiveLosses,
		BreakerStatus:     m.breaker.Status().String(),
		PortfolioHeat:     m.heat.Heat(),
		ExpiryDay:         now.Weekday() == m.config.ExpiryWeekday,
	}
}

// rolloverLocked must be called with the lock held.
func (m *Manager) rolloverLocked(now time.Time) {
	if clock.SameTradingDay(m.day, now) {
		return
	}
	m.day = now
	m.ordersToday = 0
	m.dailyPnL = 0
	m.executedPreviews = make(map[string]bool)
}

func withReason(details map[string]interface{}, reason string) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["reason"] = reason
	return out
}
