package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"risk-core/internal/risk"
	"risk-core/pkg/db"
)

type evaluateRequest struct {
	Decision risk.Decision       `json:"decision" binding:"required"`
	Market   risk.MarketSnapshot `json:"market" binding:"required"`
	Balance  risk.Balance        `json:"balance"`
	// Equity optionally refreshes the cached account equity in the
	// same call, saving the driving loop a separate /api/equity post.
	Equity *float64 `json:"equity,omitempty"`
}

type equityReport struct {
	Equity float64 `json:"equity" binding:"gt=0"`
}

type fillRequest struct {
	Symbol      string  `json:"symbol" binding:"required,min=1"`
	Side        string  `json:"side" binding:"required,oneof=buy sell"`
	Size        float64 `json:"size" binding:"gt=0"`
	Price       float64 `json:"price" binding:"gt=0"`
	RealizedPnL float64 `json:"realized_pnl"`
}

type pricePush struct {
	Symbol string  `json:"symbol" binding:"required,min=1"`
	Price  float64 `json:"price" binding:"gt=0"`
}

type listQuery struct {
	Limit int `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// evaluate runs one decision through the gate pipeline and journals the
// verdict. Rejections are 200s: a "no" is a normal answer here, not an
// HTTP failure.
func (s *Server) evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if req.Equity != nil && *req.Equity > 0 && s.Sinks.OnEquity != nil {
		s.Sinks.OnEquity(*req.Equity)
	}
	if s.Sinks.OnPrice != nil {
		for sym, row := range req.Market {
			if row.Price > 0 {
				s.Sinks.OnPrice(sym, row.Price)
			}
		}
	}

	verdict := s.Engine.Evaluate(req.Decision, req.Market, req.Balance)

	decisionID := uuid.NewString()
	s.journalDecision(c, decisionID, req, verdict)

	resp := gin.H{
		"decision_id": decisionID,
		"admitted":    verdict.Admitted,
		"reason":      verdict.Reason,
	}
	if verdict.Order != nil {
		resp["order"] = verdict.Order
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) journalDecision(c *gin.Context, id string, req evaluateRequest, verdict risk.Verdict) {
	if s.Journal == nil {
		return
	}

	rec := db.DecisionRecord{
		ID:         id,
		Symbol:     req.Decision.Symbol,
		Side:       req.Decision.Side,
		OrderType:  req.Decision.OrderType,
		Admitted:   verdict.Admitted,
		Reason:     verdict.Reason,
		Confidence: req.Decision.ConfidenceOr(0),
	}
	if verdict.Order != nil {
		rec.Size = verdict.Order.Size
	}
	if row, ok := req.Market[req.Decision.Symbol]; ok {
		rec.Price = row.Price
	}

	if err := s.Journal.InsertDecision(c.Request.Context(), rec); err != nil {
		// The journal is advisory; the verdict stands either way.
		s.Logger.Warn().Err(err).Str("decision_id", id).Msg("journal decision failed")
	}
}

// recordFill applies a confirmed execution. A state persist failure is
// fatal by design: continuing with in-memory state that diverges from
// disk risks double-risking the account on restart.
func (s *Server) recordFill(c *gin.Context) {
	var req fillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	fill := risk.Fill{
		Symbol:      req.Symbol,
		Side:        req.Side,
		Size:        req.Size,
		Price:       req.Price,
		RealizedPnL: req.RealizedPnL,
	}
	if err := s.Engine.RecordFill(fill); err != nil {
		respondError(c, http.StatusInternalServerError, "PERSIST_FAILED", err.Error())
		s.Logger.Fatal().Err(err).Str("symbol", req.Symbol).
			Msg("state persist failed after fill, refusing to continue with diverged state")
		return
	}

	if s.Journal != nil {
		rec := db.FillRecord{
			ID:          uuid.NewString(),
			Symbol:      req.Symbol,
			Side:        req.Side,
			Size:        req.Size,
			Price:       req.Price,
			RealizedPnL: req.RealizedPnL,
		}
		if err := s.Journal.InsertFill(c.Request.Context(), rec); err != nil {
			s.Logger.Warn().Err(err).Str("symbol", req.Symbol).Msg("journal fill failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "summary": s.Engine.StateSummary()})
}

// pushPrices feeds price observations into the volatility estimator.
// Accepts a single object or an array.
func (s *Server) pushPrices(c *gin.Context) {
	var batch []pricePush
	if err := c.ShouldBindBodyWith(&batch, binding.JSON); err != nil {
		var single pricePush
		if err := c.ShouldBindBodyWith(&single, binding.JSON); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		batch = []pricePush{single}
	}

	for _, p := range batch {
		s.Engine.PushPrice(p.Symbol, p.Price)
		if s.Sinks.OnPrice != nil {
			s.Sinks.OnPrice(p.Symbol, p.Price)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "accepted": len(batch)})
}

// reportEquity refreshes the cached mark-to-market account equity.
func (s *Server) reportEquity(c *gin.Context) {
	var req equityReport
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if s.Sinks.OnEquity != nil {
		s.Sinks.OnEquity(req.Equity)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.StateSummary())
}

func (s *Server) getDecisions(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	if s.Journal == nil {
		c.JSON(http.StatusOK, gin.H{"decisions": []db.DecisionRecord{}})
		return
	}
	recs, err := s.Journal.RecentDecisions(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "QUERY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs})
}

func (s *Server) getFills(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	if s.Journal == nil {
		c.JSON(http.StatusOK, gin.H{"fills": []db.FillRecord{}})
		return
	}
	recs, err := s.Journal.RecentFills(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "QUERY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": recs})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    s.Meta.Version,
		"state_path": s.Meta.StatePath,
		"symbols":    s.Meta.Symbols,
		"policy":     s.Engine.Policy(),
	})
}
