package handler

import (
	"errors"
	"strconv"
	"time"

	"bankledger/internal/auth"
	"bankledger/internal/logger"
	"bankledger/internal/model"
	"bankledger/internal/service"
	"bankledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler exposes the ledger and auth services over HTTP. Every account
// route acts on the authenticated caller only.
type Handler struct {
	ledger *service.LedgerService
	auth   *service.AuthService
	log    zerolog.Logger
}

func NewHandler(ledger *service.LedgerService, authService *service.AuthService, log zerolog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		auth:   authService,
		log:    log,
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type EntryView struct {
	EntryNo      string    `json:"entry_no"`
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balance_after"`
	Memo         string    `json:"memo"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func entryView(e *model.LedgerEntry) EntryView {
	return EntryView{
		EntryNo:      e.EntryNo,
		Kind:         e.Kind,
		Amount:       money(e.Amount),
		BalanceAfter: money(e.BalanceAfter),
		Memo:         e.Memo,
		RecordedAt:   e.RecordedAt,
	}
}

func entryViews(entries []model.LedgerEntry) []EntryView {
	out := make([]EntryView, 0, len(entries))
	for i := range entries {
		out = append(out, entryView(&entries[i]))
	}
	return out
}

type AccountView struct {
	OwnerID int64         `json:"owner_id"`
	Balance string        `json:"balance"`
	Profile model.Profile `json:"profile"`
}

func accountView(a *model.Account) AccountView {
	return AccountView{OwnerID: a.OwnerID, Balance: money(a.Balance), Profile: a.Profile}
}

// writeError maps the service error taxonomy onto response codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		mismatch     *service.AmountMismatchError
		insufficient *service.InsufficientFundsError
	)
	switch {
	case errors.As(err, &mismatch):
		response.ErrorWithData(c, response.CodeAmountMismatch, mismatch.Error(), gin.H{
			"stated":     money(mismatch.Stated),
			"calculated": money(mismatch.Calculated),
		})
	case errors.As(err, &insufficient):
		response.ErrorWithData(c, response.CodeInsufficientFunds, insufficient.Error(), gin.H{
			"balance":   money(insufficient.Balance),
			"requested": money(insufficient.Requested),
		})
	case errors.Is(err, service.ErrInvalidAmount):
		response.Error(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrAccountNotFound):
		response.Error(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrUsernameTaken):
		response.BusinessError(c, response.CodeUsernameTaken, err.Error())
	case errors.Is(err, service.ErrEmailTaken):
		response.BusinessError(c, response.CodeEmailTaken, err.Error())
	case errors.Is(err, service.ErrMissingFields),
		errors.Is(err, service.ErrInvalidAge),
		errors.Is(err, service.ErrInvalidGender):
		response.BusinessError(c, response.CodeInvalidProfile, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(c, response.CodeInvalidCredentials, err.Error())
	case errors.Is(err, service.ErrIntegrity):
		reqLog := logger.FromContext(c.Request.Context(), h.log)
		reqLog.Error().Err(err).Msg("integrity violation")
		response.Error(c, response.CodeIntegrityViolation, "request conflicts with stored data")
	case errors.Is(err, service.ErrStoreUnavailable):
		response.Error(c, response.CodeUnavailable, "service temporarily unavailable, please retry")
	default:
		reqLog := logger.FromContext(c.Request.Context(), h.log)
		reqLog.Error().Err(err).Msg("unhandled error")
		response.ServerError(c, "internal error")
	}
}

func (h *Handler) principal(c *gin.Context) (auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Error(c, response.CodeUnauthorized, "not authenticated")
	}
	return p, ok
}

// ============================================================
// Auth
// ============================================================

type SignupRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Age      int    `json:"age" binding:"required"`
	Gender   string `json:"gender" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"required,max=15"`
}

// Signup POST /api/v1/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	user, account, err := h.auth.Signup(c.Request.Context(), &service.SignupRequest{
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
		Age:      req.Age,
		Gender:   req.Gender,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":  user.ID,
		"username": user.Username,
		"account":  accountView(account),
	})
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	token, expires, user, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"token":      token,
		"expires_at": expires,
		"user_id":    user.ID,
	})
}

// ============================================================
// Account
// ============================================================

// GetAccount GET /api/v1/account
// Provisions the account on first visit and returns it with its most recent
// entries.
func (h *Handler) GetAccount(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	account, err := h.ledger.EnsureAccount(ctx, p.OwnerID, model.DefaultProfile(p.Username, p.Email))
	if err != nil {
		h.writeError(c, err)
		return
	}
	entries, err := h.ledger.RecentEntries(ctx, p.OwnerID, 0)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"account":        accountView(account),
		"recent_entries": entryViews(entries),
	})
}

// ListEntries GET /api/v1/account/entries?limit=20
func (h *Handler) ListEntries(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}

	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			response.ParamError(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.ledger.RecentEntries(c.Request.Context(), p.OwnerID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"entries": entryViews(entries)})
}

type DepositRequest struct {
	Amount    string           `json:"amount" binding:"required"`
	Breakdown map[string]int64 `json:"breakdown"`
	Memo      string           `json:"memo"`
}

// Deposit POST /api/v1/account/deposit
func (h *Handler) Deposit(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	amount, err := service.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.ledger.Deposit(c.Request.Context(), &service.DepositRequest{
		OwnerID:   p.OwnerID,
		Amount:    amount,
		Breakdown: service.Breakdown(req.Breakdown),
		Memo:      req.Memo,
		Profile:   model.DefaultProfile(p.Username, p.Email),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"balance": money(result.Balance),
		"entry":   entryView(result.Entry),
	})
}

type WithdrawRequest struct {
	Amount string `json:"amount" binding:"required"`
	Memo   string `json:"memo"`
}

// Withdraw POST /api/v1/account/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	amount, err := service.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.ledger.Withdraw(c.Request.Context(), &service.WithdrawRequest{
		OwnerID: p.OwnerID,
		Amount:  amount,
		Memo:    req.Memo,
		Profile: model.DefaultProfile(p.Username, p.Email),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"balance": money(result.Balance),
		"entry":   entryView(result.Entry),
	})
}

type ProfileRequest struct {
	FullName string `json:"full_name" binding:"required"`
	Age      int    `json:"age" binding:"required"`
	Gender   string `json:"gender" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone" binding:"required,max=15"`
}

// UpdateProfile PUT /api/v1/account/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	profile, err := service.NormalizeProfile(model.Profile{
		FullName: req.FullName,
		Age:      req.Age,
		Gender:   req.Gender,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	account, err := h.ledger.UpdateProfile(c.Request.Context(), p.OwnerID, profile)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"account": accountView(account)})
}

// VerifyAccount GET /api/v1/account/verify
func (h *Handler) VerifyAccount(c *gin.Context) {
	p, ok := h.principal(c)
	if !ok {
		return
	}

	v, err := h.ledger.VerifyAccount(c.Request.Context(), p.OwnerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"owner_id":       v.OwnerID,
		"balance":        money(v.Balance),
		"folded":         money(v.Folded),
		"entries":        v.Entries,
		"consistent":     v.Consistent,
		"first_mismatch": v.FirstMismatch,
	})
}
