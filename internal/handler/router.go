package handler

import (
	"finledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)

	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/list", h.ListAccounts)
			account.GET("/balance", h.GetAccountBalance)
		}

		// 交易相关
		transaction := api.Group("/transaction")
		{
			transaction.GET("/list", h.ListTransactions)
			transaction.GET("/detail", h.GetTransaction)
			transaction.POST("/record", h.RecordTransaction)
			transaction.POST("/update", h.UpdateTransaction)
			transaction.POST("/reclassify", h.ReclassifyTransaction)
			transaction.POST("/delete", h.DeleteTransaction)
			transaction.POST("/split", h.SplitTransaction)
			transaction.POST("/unsplit", h.UnsplitTransaction)
			transaction.POST("/batch-split", h.BatchSplitTransactions)
		}

		// 内部转账配对
		transfer := api.Group("/transfer")
		{
			transfer.GET("/pairs", h.DetectTransferPairs)
		}

		// 台账相关
		ledger := api.Group("/ledger")
		{
			ledger.GET("/member-fee/list", h.ListMemberFeeLedgers)
			ledger.GET("/event/list", h.ListEventLedgers)
			ledger.GET("/category/list", h.ListCategoryLedgers)
			ledger.POST("/reconcile", h.ReconcileLedger)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
