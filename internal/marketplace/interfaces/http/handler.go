// Package http 市场 HTTP 接口。调用方身份由网关通过 X-Account-ID / X-Role 头传入。
package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/numbermarket/internal/marketplace/application"
	"github.com/wyfcoding/numbermarket/internal/marketplace/domain"
	"github.com/wyfcoding/numbermarket/pkg/logger"
)

const (
	// AccountHeader 调用方账户
	AccountHeader = "X-Account-ID"
	// RoleHeader 调用方角色
	RoleHeader = "X-Role"
	// RoleAdmin 管理员角色
	RoleAdmin = "admin"

	actorKey = "actor"
)

// MarketplaceHandler HTTP 处理器
type MarketplaceHandler struct {
	mp *application.Marketplace
	// 出价接口额外的中间件（限流），可为空
	bidGuards []gin.HandlerFunc
}

// NewMarketplaceHandler 创建 HTTP 处理器
func NewMarketplaceHandler(mp *application.Marketplace, bidGuards ...gin.HandlerFunc) *MarketplaceHandler {
	return &MarketplaceHandler{mp: mp, bidGuards: bidGuards}
}

// RegisterRoutes 注册路由
func (h *MarketplaceHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/marketplace")
	api.POST("/accounts", h.OpenAccount)

	user := api.Group("", requireAccount())
	{
		user.GET("/accounts/me", h.GetAccount)
		user.GET("/accounts/me/ledger", h.GetLedger)

		user.POST("/listings", h.CreateListing)
		user.GET("/listings/:id", h.GetListing)
		user.POST("/listings/:id/relist", h.RelistListing)
		user.POST("/listings/:id/bids", append(h.bidGuards, h.PlaceBid)...)
		user.POST("/listings/:id/buy", h.BuyFixed)

		user.GET("/auctions/:id/winners", h.GetWinners)
		user.POST("/auctions/:id/pay", h.PayAuction)

		user.GET("/orders/:id", h.GetOrder)
		user.POST("/orders/:id/document", h.SubmitDocument)
		user.POST("/orders/:id/activation-code", h.SendActivationCode)
		user.POST("/orders/:id/verify", h.VerifyActivationCode)
		user.POST("/orders/:id/problem", h.ReportProblem)

		user.POST("/escrows", h.CreateEscrow)
		user.GET("/escrows/:code", h.GetEscrow)
		user.POST("/escrows/:code/withdraw", h.WithdrawEscrow)
		user.POST("/escrows/:code/cancel", h.CancelEscrow)
	}

	admin := api.Group("/admin", requireAccount(), requireAdmin())
	{
		admin.POST("/accounts/:id/top-ups", h.TopUp)
		admin.PUT("/listings/:id/status", h.SetListingStatus)
		admin.POST("/auctions/:id/resolve", h.ResolveAuction)
		admin.POST("/orders/:id/approve-document", h.ApproveDocument)
		admin.POST("/orders/:id/reject-document", h.RejectDocument)
		admin.POST("/orders/:id/approve-activation", h.ApproveActivation)
		admin.POST("/orders/:id/settle", h.Settle)
	}
}

func requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(AccountHeader)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + AccountHeader})
			return
		}
		c.Set(actorKey, id)
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(RoleHeader) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func actor(c *gin.Context) string {
	return c.GetString(actorKey)
}

func isAdmin(c *gin.Context) bool {
	return c.GetHeader(RoleHeader) == RoleAdmin
}

// statusFor 业务错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrExternalFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "operation", op, "error", err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// --- accounts ---

type openAccountRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

// OpenAccount 开户
func (h *MarketplaceHandler) OpenAccount(c *gin.Context) {
	var req openAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acc, err := h.mp.Accounts.Open(c.Request.Context(), req.AccountID)
	if err != nil {
		fail(c, "open account", err)
		return
	}
	c.JSON(http.StatusCreated, acc)
}

// GetAccount 查询本人账户
func (h *MarketplaceHandler) GetAccount(c *gin.Context) {
	acc, err := h.mp.Accounts.Get(c.Request.Context(), actor(c))
	if err != nil {
		fail(c, "get account", err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// GetLedger 分页查询本人资金流水
func (h *MarketplaceHandler) GetLedger(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		badRequest(c, errors.New("invalid limit"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		badRequest(c, errors.New("invalid offset"))
		return
	}
	page, err := h.mp.Accounts.History(c.Request.Context(), actor(c), limit, offset)
	if err != nil {
		fail(c, "get ledger", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type topUpRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" binding:"required"`
}

// TopUp 支付渠道回调入账
func (h *MarketplaceHandler) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acc, err := h.mp.Accounts.TopUp(c.Request.Context(), application.TopUpCommand{
		AccountID: c.Param("id"),
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		fail(c, "top up", err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// --- listings & bidding ---

type createListingRequest struct {
	Number    string          `json:"number" binding:"required"`
	BasePrice decimal.Decimal `json:"base_price"`
	SaleMode  string          `json:"sale_mode" binding:"required"`
	LineType  string          `json:"line_type" binding:"required"`
	// 拍卖结束时间（unix 秒），仅拍卖方式需要
	EndTime int64 `json:"end_time"`
}

// CreateListing 卖家挂牌
func (h *MarketplaceHandler) CreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cmd := application.CreateListingCommand{
		SellerID:  actor(c),
		Number:    req.Number,
		BasePrice: req.BasePrice,
		SaleMode:  domain.SaleMode(req.SaleMode),
		LineType:  domain.LineType(req.LineType),
	}
	if req.EndTime > 0 {
		cmd.EndTime = time.Unix(req.EndTime, 0)
	}
	listing, err := h.mp.Listings.Create(c.Request.Context(), cmd)
	if err != nil {
		fail(c, "create listing", err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// GetListing 查询挂牌
func (h *MarketplaceHandler) GetListing(c *gin.Context) {
	listing, err := h.mp.Listings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "get listing", err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

type relistRequest struct {
	// 新一场拍卖的结束时间（unix 秒）
	EndTime int64 `json:"end_time" binding:"required"`
}

// RelistListing 卖家重新开拍
func (h *MarketplaceHandler) RelistListing(c *gin.Context) {
	var req relistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	listing, err := h.mp.Listings.Relist(c.Request.Context(), application.RelistCommand{
		ListingID: c.Param("id"),
		SellerID:  actor(c),
		EndTime:   time.Unix(req.EndTime, 0),
	})
	if err != nil {
		fail(c, "relist listing", err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetListingStatus 管理员修改挂牌状态
func (h *MarketplaceHandler) SetListingStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	listing, err := h.mp.Listings.SetStatus(c.Request.Context(), c.Param("id"), domain.ListingStatus(req.Status))
	if err != nil {
		fail(c, "set listing status", err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PlaceBid 出价
func (h *MarketplaceHandler) PlaceBid(c *gin.Context) {
	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.mp.Bidding.PlaceBid(c.Request.Context(), application.PlaceBidCommand{
		ListingID: c.Param("id"),
		BidderID:  actor(c),
		Amount:    req.Amount,
	})
	if err != nil {
		fail(c, "place bid", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// BuyFixed 一口价购买
func (h *MarketplaceHandler) BuyFixed(c *gin.Context) {
	order, err := h.mp.Orders.BuyFixed(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		fail(c, "buy fixed", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// --- auctions ---

// GetWinners 查询中标队列
func (h *MarketplaceHandler) GetWinners(c *gin.Context) {
	winners, err := h.mp.Winners.Queue(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "get winners", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": winners})
}

// PayAuction 当前付款人支付剩余款项
func (h *MarketplaceHandler) PayAuction(c *gin.Context) {
	order, err := h.mp.Winners.Pay(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		fail(c, "pay auction", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// ResolveAuction 管理员手动结拍
func (h *MarketplaceHandler) ResolveAuction(c *gin.Context) {
	res, err := h.mp.Resolver.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "resolve auction", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- purchase orders ---

// GetOrder 查询订单，仅买卖双方与管理员可见
func (h *MarketplaceHandler) GetOrder(c *gin.Context) {
	order, err := h.mp.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "get order", err)
		return
	}
	if !isAdmin(c) && order.BuyerID != actor(c) && order.SellerID != actor(c) {
		fail(c, "get order", domain.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, order)
}

type documentRequest struct {
	DocumentRef string `json:"document_ref" binding:"required"`
}

// SubmitDocument 卖家提交证件
func (h *MarketplaceHandler) SubmitDocument(c *gin.Context) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respondOrder(c, "submit document")(h.mp.Orders.SubmitDocument(c.Request.Context(), c.Param("id"), actor(c), req.DocumentRef))
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

// SendActivationCode 卖家提供激活码
func (h *MarketplaceHandler) SendActivationCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respondOrder(c, "send activation code")(h.mp.Orders.SendActivationCode(c.Request.Context(), c.Param("id"), actor(c), req.Code))
}

// VerifyActivationCode 买家确认激活码
func (h *MarketplaceHandler) VerifyActivationCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respondOrder(c, "verify activation code")(h.mp.Orders.VerifyActivationCode(c.Request.Context(), c.Param("id"), actor(c), req.Code))
}

type problemRequest struct {
	Detail string `json:"detail"`
}

// ReportProblem 买家反馈激活问题
func (h *MarketplaceHandler) ReportProblem(c *gin.Context) {
	var req problemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respondOrder(c, "report problem")(h.mp.Orders.ReportProblem(c.Request.Context(), c.Param("id"), actor(c), req.Detail))
}

// ApproveDocument 管理员审核通过证件
func (h *MarketplaceHandler) ApproveDocument(c *gin.Context) {
	h.respondOrder(c, "approve document")(h.mp.Orders.ApproveDocument(c.Request.Context(), c.Param("id")))
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectDocument 管理员驳回证件
func (h *MarketplaceHandler) RejectDocument(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.respondOrder(c, "reject document")(h.mp.Orders.RejectDocument(c.Request.Context(), c.Param("id"), req.Reason))
}

// ApproveActivation 管理员代为确认激活
func (h *MarketplaceHandler) ApproveActivation(c *gin.Context) {
	h.respondOrder(c, "approve activation")(h.mp.Orders.ApproveActivation(c.Request.Context(), c.Param("id")))
}

// Settle 管理员补结算已确认交付的订单
func (h *MarketplaceHandler) Settle(c *gin.Context) {
	res, err := h.mp.Settlement.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "settle order", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *MarketplaceHandler) respondOrder(c *gin.Context, op string) func(*application.OrderDTO, error) {
	return func(order *application.OrderDTO, err error) {
		if err != nil {
			fail(c, op, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

// --- escrow ---

type createEscrowRequest struct {
	ListingID string          `json:"listing_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// CreateEscrow 买家创建担保支付
func (h *MarketplaceHandler) CreateEscrow(c *gin.Context) {
	var req createEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.mp.Escrow.Create(c.Request.Context(), application.CreateEscrowCommand{
		BuyerID:   actor(c),
		ListingID: req.ListingID,
		Amount:    req.Amount,
	})
	if err != nil {
		fail(c, "create escrow", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetEscrow 按支付码查询
func (h *MarketplaceHandler) GetEscrow(c *gin.Context) {
	p, err := h.mp.Escrow.Get(c.Request.Context(), actor(c), c.Param("code"))
	if err != nil {
		fail(c, "get escrow", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// WithdrawEscrow 卖家凭支付码提取
func (h *MarketplaceHandler) WithdrawEscrow(c *gin.Context) {
	order, err := h.mp.Escrow.Withdraw(c.Request.Context(), actor(c), c.Param("code"))
	if err != nil {
		fail(c, "withdraw escrow", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// CancelEscrow 买家取消担保支付
func (h *MarketplaceHandler) CancelEscrow(c *gin.Context) {
	p, err := h.mp.Escrow.Cancel(c.Request.Context(), actor(c), c.Param("code"))
	if err != nil {
		fail(c, "cancel escrow", err)
		return
	}
	c.JSON(http.StatusOK, p)
}
