package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/smallbiznis/quotameter/internal/ledger/domain"
)

type accountResponse struct {
	Username  string `json:"username"`
	Balance   int64  `json:"balance"`
	Unlimited bool   `json:"unlimited"`
}

func toAccountResponse(account *ledgerdomain.Account) accountResponse {
	return accountResponse{
		Username:  account.Username,
		Balance:   account.Balance,
		Unlimited: account.Unlimited,
	}
}

func (s *Server) ListAccounts(c *gin.Context) {
	accounts, err := s.ledgerSvc.ListAccounts(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for i := range accounts {
		resp = append(resp, toAccountResponse(&accounts[i]))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": resp})
}

func (s *Server) GetAccount(c *gin.Context) {
	account, err := s.ledgerSvc.GetAccount(c.Request.Context(), c.Param("username"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if account == nil {
		AbortWithError(c, ledgerdomain.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, toAccountResponse(account))
}

func (s *Server) ListTransactions(c *gin.Context) {
	limit := s.holder.Get().HistoryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	txns, err := s.ledgerSvc.ListTransactions(c.Request.Context(), c.Param("username"), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

type updateBalanceRequest struct {
	Action      string `json:"action" binding:"required"`
	Amount      int64  `json:"amount"`
	Unlimited   bool   `json:"unlimited"`
	Description string `json:"description"`
	Actor       string `json:"actor"`
}

func (s *Server) UpdateBalance(c *gin.Context) {
	var req updateBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request"))
		return
	}

	ctx := c.Request.Context()
	username := c.Param("username")

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "set":
		balance, err := s.ledgerSvc.SetBalance(ctx, username, req.Amount, req.Actor)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": username, "balance": balance})
	case "add":
		balance, err := s.ledgerSvc.AddBalance(ctx, username, req.Amount, req.Actor, req.Description)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": username, "balance": balance})
	case "deduct":
		delta := req.Amount
		if delta > 0 {
			delta = -delta
		}
		balance, err := s.ledgerSvc.AddBalance(ctx, username, delta, req.Actor, req.Description)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": username, "balance": balance})
	case "set_unlimited":
		if err := s.ledgerSvc.SetUnlimited(ctx, username, req.Unlimited, req.Actor); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"username": username, "unlimited": req.Unlimited})
	default:
		AbortWithError(c, newValidationError("action", "invalid_action", "action must be one of set, add, deduct, set_unlimited"))
	}
}
