package handler

import (
	"errors"
	"strconv"
	"time"

	"finledger/internal/config"
	"finledger/internal/infrastructure/members"
	"finledger/internal/model"
	"finledger/internal/repository"
	"finledger/internal/service"
	"finledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	transactionService *service.TransactionService
	splitService       *service.SplitService
	balanceService     *service.BalanceService
	transferService    *service.TransferService
	memberFeeService   *service.MemberFeeLedgerService
	eventService       *service.EventLedgerService
	categoryService    *service.CategoryLedgerService
	accounts           repository.AccountStore
}

// NewHandler 创建处理器实例并完成依赖装配
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	transactionRepo := repository.NewTransactionRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	memberFeeRepo := repository.NewMemberFeeLedgerRepository(db)
	eventRepo := repository.NewEventLedgerRepository(db)
	categoryRepo := repository.NewCategoryLedgerRepository(db)
	uow := repository.NewUnitOfWork(db)

	balanceService := service.NewBalanceService(transactionRepo, accountRepo, rdb, cfg)
	memberDirectory := members.NewClient(&cfg.Members)
	memberFeeService := service.NewMemberFeeLedgerService(transactionRepo, memberFeeRepo, outboxRepo, memberDirectory, cfg)
	eventService := service.NewEventLedgerService(transactionRepo, eventRepo, outboxRepo, cfg)
	categoryService := service.NewCategoryLedgerService(transactionRepo, categoryRepo, outboxRepo, cfg)
	dispatcher := service.NewUpsertDispatcher(memberFeeService, eventService, categoryService)

	return &Handler{
		transactionService: service.NewTransactionService(uow, accountRepo, balanceService, dispatcher, cfg),
		splitService:       service.NewSplitService(uow, balanceService, dispatcher, cfg),
		balanceService:     balanceService,
		transferService:    service.NewTransferService(transactionRepo),
		memberFeeService:   memberFeeService,
		eventService:       eventService,
		categoryService:    categoryService,
		accounts:           accountRepo,
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// ListAccounts 账户列表
// GET /api/v1/account/list
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.accounts.List(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": accounts})
}

// GetAccountBalance 账户当前余额
// GET /api/v1/account/balance?account_id=xxx
func (h *Handler) GetAccountBalance(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Query("account_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "account_id 参数错误")
		return
	}

	balance, err := h.balanceService.CurrentBalance(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			response.BusinessError(c, response.CodeAccountNotFound, err.Error())
			return
		}
		if errors.Is(err, service.ErrBalanceUnavailable) {
			response.BusinessError(c, response.CodeBalanceUnavailable, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"account_id": accountID,
		"balance":    balance,
	})
}

// ============================================================
// 交易相关接口
// ============================================================

// ListTransactions 交易列表
// GET /api/v1/transaction/list
//
// 指定 account_id 时附带逐行滚动余额；余额缓存不可用不影响
// 列表本身，running_balances 置空返回。
func (h *Handler) ListTransactions(c *gin.Context) {
	filter, err := parseTransactionFilter(c)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	transactions, total, err := h.transactionService.List(ctx, filter)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	result := gin.H{
		"total": total,
		"list":  transactions,
	}

	if filter.AccountID > 0 {
		balances, err := h.balanceService.RunningBalances(ctx, filter.AccountID, transactions, filter.SortField, filter.SortOrder)
		if err != nil {
			if !errors.Is(err, service.ErrBalanceUnavailable) {
				response.ServerError(c, err.Error())
				return
			}
		} else {
			result["running_balances"] = balances
		}
	}

	response.Success(c, result)
}

// GetTransaction 交易详情
// GET /api/v1/transaction/detail?transaction_id=xxx
func (h *Handler) GetTransaction(c *gin.Context) {
	transactionID, err := strconv.ParseInt(c.Query("transaction_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "transaction_id 参数错误")
		return
	}

	detail, err := h.transactionService.Detail(c.Request.Context(), transactionID)
	if err != nil {
		h.writeTransactionError(c, err)
		return
	}
	response.Success(c, detail)
}

// RecordTransaction 记账
// POST /api/v1/transaction/record
func (h *Handler) RecordTransaction(c *gin.Context) {
	var req service.RecordInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.transactionService.Record(c.Request.Context(), &req)
	if err != nil {
		h.writeTransactionError(c, err)
		return
	}
	response.Success(c, trans)
}

// UpdateTransactionRequest 改账请求
type UpdateTransactionRequest struct {
	TransactionID int64 `json:"transaction_id" binding:"required"`
	service.UpdateInput
}

// UpdateTransaction 改账
// POST /api/v1/transaction/update
func (h *Handler) UpdateTransaction(c *gin.Context) {
	var req UpdateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.transactionService.Update(c.Request.Context(), req.TransactionID, &req.UpdateInput)
	if err != nil {
		h.writeTransactionError(c, err)
		return
	}
	response.Success(c, trans)
}

// ReclassifyTransactionRequest 重新归类请求
type ReclassifyTransactionRequest struct {
	TransactionID int64 `json:"transaction_id" binding:"required"`
	service.ReclassifyInput
}

// ReclassifyTransaction 重新归类
// POST /api/v1/transaction/reclassify
func (h *Handler) ReclassifyTransaction(c *gin.Context) {
	var req ReclassifyTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.transactionService.Reclassify(c.Request.Context(), req.TransactionID, &req.ReclassifyInput)
	if err != nil {
		h.writeTransactionError(c, err)
		return
	}
	response.Success(c, trans)
}

// DeleteTransactionRequest 删除请求
type DeleteTransactionRequest struct {
	TransactionID int64 `json:"transaction_id" binding:"required"`
}

// DeleteTransaction 删除交易
// POST /api/v1/transaction/delete
func (h *Handler) DeleteTransaction(c *gin.Context) {
	var req DeleteTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.transactionService.Delete(c.Request.Context(), req.TransactionID); err != nil {
		h.writeTransactionError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "删除成功"})
}

// ============================================================
// 拆分相关接口
// ============================================================

// SplitRequest 拆分请求
type SplitRequest struct {
	TransactionID int64                `json:"transaction_id" binding:"required"`
	Allocations   []service.Allocation `json:"allocations" binding:"required"`
}

// SplitTransaction 拆分交易
// POST /api/v1/transaction/split
func (h *Handler) SplitTransaction(c *gin.Context) {
	var req SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.splitService.Split(c.Request.Context(), req.TransactionID, req.Allocations)
	if err != nil {
		h.writeSplitError(c, err)
		return
	}
	response.Success(c, result)
}

// UnsplitRequest 取消拆分请求
type UnsplitRequest struct {
	TransactionID int64 `json:"transaction_id" binding:"required"`
}

// UnsplitTransaction 取消拆分
// POST /api/v1/transaction/unsplit
func (h *Handler) UnsplitTransaction(c *gin.Context) {
	var req UnsplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	parent, err := h.splitService.Unsplit(c.Request.Context(), req.TransactionID)
	if err != nil {
		h.writeSplitError(c, err)
		return
	}
	response.Success(c, parent)
}

// BatchSplitRequest 批量拆分请求
type BatchSplitRequest struct {
	TransactionIDs []int64              `json:"transaction_ids" binding:"required"`
	Allocations    []service.Allocation `json:"allocations" binding:"required"`
}

// BatchSplitTransactions 批量拆分，按同一明细模板逐笔执行
// POST /api/v1/transaction/batch-split
func (h *Handler) BatchSplitTransactions(c *gin.Context) {
	var req BatchSplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.splitService.BatchSplit(c.Request.Context(), req.TransactionIDs, req.Allocations)
	if err != nil {
		h.writeSplitError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 转账配对接口
// ============================================================

// DetectTransferPairs 内部转账配对
// GET /api/v1/transfer/pairs?date_from=2026-01-01&date_to=2026-01-31
func (h *Handler) DetectTransferPairs(c *gin.Context) {
	dateFrom, err := parseDateParam(c.Query("date_from"))
	if err != nil {
		response.ParamError(c, "date_from 参数错误")
		return
	}
	dateTo, err := parseDateParam(c.Query("date_to"))
	if err != nil {
		response.ParamError(c, "date_to 参数错误")
		return
	}

	result, err := h.transferService.DetectPairs(c.Request.Context(), dateFrom, dateTo)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, result)
}

// ============================================================
// 台账相关接口
// ============================================================

// ListMemberFeeLedgers 会员费台账列表
// GET /api/v1/ledger/member-fee/list
func (h *Handler) ListMemberFeeLedgers(c *gin.Context) {
	limit, offset := parsePage(c)
	records, err := h.memberFeeService.List(c.Request.Context(), limit, offset)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": records})
}

// ListEventLedgers 活动台账列表
// GET /api/v1/ledger/event/list
func (h *Handler) ListEventLedgers(c *gin.Context) {
	limit, offset := parsePage(c)
	records, err := h.eventService.List(c.Request.Context(), limit, offset)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": records})
}

// ListCategoryLedgers 科目台账列表
// GET /api/v1/ledger/category/list
func (h *Handler) ListCategoryLedgers(c *gin.Context) {
	limit, offset := parsePage(c)
	records, err := h.categoryService.List(c.Request.Context(), limit, offset)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"list": records})
}

// ReconcileRequest 手动对账请求，kind 决定哪些键字段必填
type ReconcileRequest struct {
	Kind        string `json:"kind" binding:"required"`
	MemberID    int64  `json:"member_id"`
	FiscalYear  int    `json:"fiscal_year"`
	EventID     int64  `json:"event_id"`
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
}

// ReconcileLedger 手动触发一次对账
// POST /api/v1/ledger/reconcile
func (h *Handler) ReconcileLedger(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	var err error
	switch req.Kind {
	case service.LedgerKindMemberFee:
		if req.MemberID == 0 || req.FiscalYear == 0 {
			response.ParamError(c, "member_id 和 fiscal_year 不能为空")
			return
		}
		err = h.memberFeeService.Reconcile(ctx, req.MemberID, req.FiscalYear)
	case service.LedgerKindEvent:
		if req.EventID == 0 {
			response.ParamError(c, "event_id 不能为空")
			return
		}
		err = h.eventService.Reconcile(ctx, req.EventID)
	case service.LedgerKindCategory:
		if req.Category == "" {
			response.ParamError(c, "category 不能为空")
			return
		}
		err = h.categoryService.Reconcile(ctx, req.Category, req.SubCategory)
	default:
		response.ParamError(c, "kind 必须是 member_fee / event / category")
		return
	}

	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "对账完成"})
}

// ============================================================
// 参数解析与错误映射
// ============================================================

func parseTransactionFilter(c *gin.Context) (repository.TransactionFilter, error) {
	filter := repository.TransactionFilter{
		Category:  c.Query("category"),
		ClassCode: c.Query("class_code"),
		Direction: c.Query("direction"),
		SortField: c.Query("sort_field"),
		SortOrder: c.Query("sort_order"),
	}

	if raw := c.Query("account_id"); raw != "" {
		accountID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return repository.TransactionFilter{}, errors.New("account_id 参数错误")
		}
		filter.AccountID = accountID
	}
	if raw := c.Query("sub_category"); raw != "" {
		filter.SubCategory = &raw
	}
	if raw := c.Query("member_id"); raw != "" {
		memberID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return repository.TransactionFilter{}, errors.New("member_id 参数错误")
		}
		filter.MemberID = &memberID
	}
	if raw := c.Query("fiscal_year"); raw != "" {
		fiscalYear, err := strconv.Atoi(raw)
		if err != nil {
			return repository.TransactionFilter{}, errors.New("fiscal_year 参数错误")
		}
		filter.FiscalYear = &fiscalYear
	}
	if raw := c.Query("event_id"); raw != "" {
		eventID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return repository.TransactionFilter{}, errors.New("event_id 参数错误")
		}
		filter.EventID = &eventID
	}
	if raw := c.Query("only_real"); raw == "true" || raw == "1" {
		filter.OnlyReal = true
	}

	dateFrom, err := parseDateParam(c.Query("date_from"))
	if err != nil {
		return repository.TransactionFilter{}, errors.New("date_from 参数错误")
	}
	filter.DateFrom = dateFrom
	dateTo, err := parseDateParam(c.Query("date_to"))
	if err != nil {
		return repository.TransactionFilter{}, errors.New("date_to 参数错误")
	}
	filter.DateTo = dateTo

	filter.Limit, filter.Offset = parsePage(c)
	return filter, nil
}

// parseDateParam 解析日期参数，空串返回 nil
func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parsePage(c *gin.Context) (limit, offset int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return pageSize, (page - 1) * pageSize
}

func (h *Handler) writeTransactionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrVirtualReadOnly),
		errors.Is(err, service.ErrDirectionImmutable),
		errors.Is(err, service.ErrSplitAmountLocked):
		response.BusinessError(c, response.CodeVirtualReadOnly, err.Error())
	case errors.Is(err, service.ErrInvalidDirection),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, model.ErrMissingMemberRef),
		errors.Is(err, model.ErrMissingEventRef):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func (h *Handler) writeSplitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, service.ErrOverAllocated):
		response.BusinessError(c, response.CodeOverAllocated, err.Error())
	case errors.Is(err, service.ErrNotSplit):
		response.BusinessError(c, response.CodeNotSplit, err.Error())
	case errors.Is(err, service.ErrParentVirtual):
		response.BusinessError(c, response.CodeVirtualReadOnly, err.Error())
	case errors.Is(err, service.ErrEmptyAllocations),
		errors.Is(err, service.ErrInvalidAmount):
		response.ParamError(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
