package handlers

import (
	"net/http"

	"github.com/nextconvert/silk2mp3/internal/api/middleware"
	"github.com/nextconvert/silk2mp3/internal/shared/tools"
)

// ToolReporter reports how each external tool resolves.
type ToolReporter interface {
	Report() []tools.Resolution
}

// StrategyLister lists conversion strategies in the order they are tried.
type StrategyLister interface {
	Strategies() []string
}

// ToolsHandler serves tool diagnostics
type ToolsHandler struct {
	tools      ToolReporter
	strategies StrategyLister
}

// NewToolsHandler creates a new tools handler
func NewToolsHandler(tools ToolReporter, strategies StrategyLister) *ToolsHandler {
	return &ToolsHandler{tools: tools, strategies: strategies}
}

// ToolsResponse is the body of the diagnostics reply
type ToolsResponse struct {
	Status     string             `json:"status"`
	Tools      []tools.Resolution `json:"tools"`
	Strategies []string           `json:"strategies"`
}

// Test reports tool resolution. Status is "degraded" when a tool is missing;
// conversion may still succeed through another strategy.
func (h *ToolsHandler) Test(w http.ResponseWriter, r *http.Request) {
	report := h.tools.Report()

	status := "ok"
	for _, res := range report {
		if !res.Found {
			status = "degraded"
			break
		}
	}

	middleware.WriteJSON(w, http.StatusOK, ToolsResponse{
		Status:     status,
		Tools:      report,
		Strategies: h.strategies.Strategies(),
	})
}
