package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/quantsphere/fno-trading-bot/internal/broker"
	"github.com/quantsphere/fno-trading-bot/internal/monitoring"
	"github.com/quantsphere/fno-trading-bot/internal/orders"
)

// apiServer exposes the preview/confirm/execute pipeline over JSON. Previews
// are held until executed or replaced; the manager enforces consume-once, the
// cache only keeps the pointer alive between the two calls.
type apiServer struct {
	manager *orders.Manager

	mu       sync.Mutex
	previews map[string]*orders.OrderPreview
}

func newAPIServer(manager *orders.Manager) *apiServer {
	return &apiServer{
		manager:  manager,
		previews: make(map[string]*orders.OrderPreview),
	}
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/preview", s.handlePreview)
	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("POST /api/trade-result", s.handleTradeResult)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	return mux
}

type previewRequest struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	StopPrice float64 `json:"stop_price,omitempty"`
	Product   string  `json:"product,omitempty"`
}

type previewResponse struct {
	PreviewID           string   `json:"preview_id"`
	Status              string   `json:"status"`
	OrderValue          float64  `json:"order_value"`
	EstimatedMargin     float64  `json:"estimated_margin"`
	MaxLoss             float64  `json:"max_loss"`
	MaxLossPercent      float64  `json:"max_loss_percent"`
	HeatAfter           float64  `json:"heat_after"`
	PositionSizePercent float64  `json:"position_size_percent"`
	MaxPositionPercent  float64  `json:"max_position_percent"`
	SuggestedQuantity   int      `json:"suggested_quantity,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
	BlockReasons        []string `json:"block_reasons,omitempty"`
}

func (s *apiServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	side := broker.SideBuy
	if req.Side == "SELL" || req.Side == "sell" {
		side = broker.SideSell
	}
	product := broker.ProductIntraday
	if req.Product == string(broker.ProductDelivery) {
		product = broker.ProductDelivery
	}

	preview, err := s.manager.CreateOrderPreview(orders.PreviewRequest{
		Symbol:    req.Symbol,
		Side:      side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		StopPrice: req.StopPrice,
		Product:   product,
	})
	if err != nil {
		monitoring.RecordError("preview_validation")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	monitoring.RecordPreview(string(preview.Status))
	for _, reason := range preview.BlockReasons {
		monitoring.RecordBlocked(reason)
	}

	s.mu.Lock()
	s.previews[preview.ID] = preview
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, previewResponse{
		PreviewID:           preview.ID,
		Status:              string(preview.Status),
		OrderValue:          preview.OrderValue,
		EstimatedMargin:     preview.EstimatedMargin,
		MaxLoss:             preview.MaxLoss,
		MaxLossPercent:      preview.MaxLossPercent,
		HeatAfter:           preview.HeatAfter,
		PositionSizePercent: preview.PositionSizePercent,
		MaxPositionPercent:  preview.MaxPositionPercent,
		SuggestedQuantity:   preview.SuggestedQuantity,
		Warnings:            preview.Warnings,
		BlockReasons:        preview.BlockReasons,
	})
}

type executeRequest struct {
	PreviewID string `json:"preview_id"`
	Confirmed bool   `json:"confirmed"`
}

type executeResponse struct {
	BrokerOrderID string `json:"broker_order_id"`
	PlacedAt      string `json:"placed_at"`
}

func (s *apiServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	s.mu.Lock()
	preview := s.previews[req.PreviewID]
	delete(s.previews, req.PreviewID)
	s.mu.Unlock()
	if preview == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown preview %q", req.PreviewID))
		return
	}

	ack, err := s.manager.ExecuteConfirmedOrder(r.Context(), preview, req.Confirmed)
	if err != nil {
		monitoring.RecordError("execute")
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	monitoring.RecordExecution(preview.Request.Symbol, string(preview.Request.Side), preview.OrderValue)
	writeJSON(w, http.StatusOK, executeResponse{
		BrokerOrderID: ack.BrokerOrderID,
		PlacedAt:      ack.PlacedAt.Format(time.RFC3339),
	})
}

type tradeResultRequest struct {
	OrderID string  `json:"order_id"`
	PnL     float64 `json:"pnl"`
}

func (s *apiServer) handleTradeResult(w http.ResponseWriter, r *http.Request) {
	var req tradeResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("order_id is required"))
		return
	}

	if err := s.manager.RecordTradeResult(req.OrderID, req.PnL); err != nil {
		monitoring.RecordError("trade_result")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *apiServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Summary())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
