package main

import (
	"context"
	"strings"

	"vetclinic-backend/internal/admin"
	"vetclinic-backend/internal/audit"
	"vetclinic-backend/internal/auth"
	"vetclinic-backend/internal/billing"
	"vetclinic-backend/internal/cache"
	"vetclinic-backend/internal/config"
	"vetclinic-backend/internal/database"
	"vetclinic-backend/internal/inventory"
	"vetclinic-backend/internal/logger"
	"vetclinic-backend/internal/middleware"
	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	logger.SetDefault(log)
	database.Init(cfg)

	policy, err := stock.ParseNoBatchPolicy(cfg.NoBatchShortfall)
	if err != nil {
		log.Fatal(err)
	}

	store := stock.NewGormStore(database.DB)

	var (
		locker stock.Locker = stock.NewLocalLocker()
		loader cache.Loader = store
	)
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("could not connect to redis at %s: %v", cfg.RedisAddress, err)
		}
		locker = stock.NewRedisLocker(rdb, cfg.StockLockTTL)
		loader = cache.NewRedisTier(rdb, store, cfg.ProductCacheTTL, log)
		log.WithField("addr", cfg.RedisAddress).Info("redis locking and product cache enabled")
	}
	products := cache.NewProductCache(loader, cfg.ProductCacheSize, cfg.ProductCacheTTL)

	engine := stock.NewEngine(store,
		stock.WithProductIndex(products),
		stock.WithNoBatchPolicy(policy),
		stock.WithLogger(log),
	)
	stockSvc := stock.NewService(store, products, log)

	invoices := billing.NewGormRepository(database.DB)
	// the workflow checks under the product locks, so it must read the
	// database rather than the cache
	workflow := billing.NewWorkflow(invoices, stock.NewChecker(store), engine, locker, log)
	advisory := stock.NewChecker(products)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			logger.FromFiber(c).WithError(err).Error("unexpected error")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unexpected server error",
			})
		},
	})

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(corsOrigins, ","),
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
		ExposeHeaders: middleware.RequestIDHeader,
	}))
	app.Use(middleware.RequestID())
	app.Use(middleware.Metrics())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-super-admin", auth.RegisterSuperAdminHandler(cfg))
	api.Post("/auth/login", auth.LoginHandler(cfg))

	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg))

	protected.Get("/auth/me", auth.MeHandler())

	// Clinics and their users
	adminRoutes := protected.Group("/admin")
	adminRoutes.Use(auth.RequireRole(models.RoleSuperAdmin))
	adminRoutes.Post("/clinics", admin.CreateClinicHandler())
	adminRoutes.Get("/clinics", admin.ListClinicsHandler())
	adminRoutes.Get("/clinics/:id", admin.GetClinicHandler())
	adminRoutes.Put("/clinics/:id", admin.UpdateClinicHandler())
	adminRoutes.Delete("/clinics/:id", admin.DeleteClinicHandler())
	adminRoutes.Post("/clinics/:id/users", admin.CreateClinicUserHandler())
	adminRoutes.Get("/clinics/:id/users", admin.ListClinicUsersHandler())

	managers := auth.RequireRole(models.RoleSuperAdmin, models.RoleClinicAdmin)

	// Catalog
	protected.Get("/products", inventory.ListProductsHandler())
	protected.Get("/products/low-stock", inventory.LowStockHandler())
	protected.Get("/products/categories", inventory.ListCategoriesHandler())
	protected.Get("/products/:id", inventory.GetProductHandler())
	protected.Post("/products", managers, inventory.CreateProductHandler(stockSvc))
	protected.Put("/products/:id", managers, inventory.UpdateProductHandler(products))
	protected.Delete("/products/:id", managers, inventory.DeactivateProductHandler(products))

	// Batches
	protected.Get("/products/:id/batches", inventory.ListBatchesHandler(stockSvc))
	protected.Post("/products/:id/batches", inventory.ReceiveBatchHandler(stockSvc))
	protected.Post("/products/:id/batches/:batchId/write-off", inventory.WriteOffBatchHandler(stockSvc))
	protected.Post("/products/:id/reconcile", managers, inventory.ReconcileProductHandler(stockSvc))

	// Stock ledger
	protected.Get("/stock/movements", inventory.ListMovementsHandler(stockSvc))
	protected.Get("/stock/movements/export", inventory.ExportMovementsHandler(stockSvc))
	protected.Post("/stock/receipts/import", managers, inventory.ImportReceiptsHandler(stockSvc))
	protected.Get("/stock/consistency", inventory.ConsistencyHandler(stockSvc))
	protected.Post("/stock/availability", inventory.AvailabilityHandler(advisory))

	// Invoices
	protected.Post("/invoices", billing.CreateInvoiceHandler(workflow))
	protected.Get("/invoices", billing.ListInvoicesHandler(invoices))
	protected.Get("/invoices/:id", billing.GetInvoiceHandler(invoices))
	protected.Put("/invoices/:id", billing.UpdateInvoiceHandler(workflow, invoices))
	protected.Post("/invoices/:id/reconciled", managers, billing.MarkReconciledHandler(workflow, invoices))

	// Audit logs
	protected.Get("/audit-logs", audit.ListAuditLogsHandler())

	log.WithField("port", cfg.HTTPPort).Info("server listening")
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.Fatal(err)
	}
}
