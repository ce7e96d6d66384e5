package main

import (
	"log"
	"strings"

	"supplycrm-backend/internal/audit"
	"supplycrm-backend/internal/auth"
	"supplycrm-backend/internal/companies"
	"supplycrm-backend/internal/config"
	"supplycrm-backend/internal/connections"
	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/models"
	"supplycrm-backend/internal/supplies"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	cfg := config.Load()
	database.Init(cfg)
	supplies.Init(cfg)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if e, ok := err.(*fiber.Error); ok {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			log.Println("Unexpected error:", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Непредвиденная ошибка сервера",
			})
		},
	})

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
	}))

	api := app.Group("/api")

	// Public auth
	api.Post("/auth/register-super-admin", auth.RegisterSuperAdminHandler(cfg))
	api.Post("/auth/login", auth.LoginHandler(cfg))

	// Protected
	protected := api.Group("")
	protected.Use(auth.JWTMiddleware(cfg))

	protected.Get("/auth/me", auth.MeHandler())

	// Super admin routes
	adminRoutes := protected.Group("/admin")
	adminRoutes.Use(auth.RequireRole(models.RoleSuperAdmin))

	// Компании и операторы
	adminRoutes.Post("/companies", companies.CreateCompanyHandler())
	adminRoutes.Get("/companies", companies.ListCompaniesHandler())
	adminRoutes.Get("/companies/:id", companies.GetCompanyHandler())
	adminRoutes.Put("/companies/:id", companies.UpdateCompanyHandler())
	adminRoutes.Delete("/companies/:id", companies.DeleteCompanyHandler())
	adminRoutes.Post("/companies/:id/operators", companies.CreateOperatorHandler())
	adminRoutes.Get("/companies/:id/operators", companies.ListOperatorsHandler())

	// Подключения к маркетплейсам
	protected.Post("/connections", connections.CreateConnectionHandler())
	protected.Get("/connections", connections.ListConnectionsHandler())
	protected.Get("/connections/:id", connections.GetConnectionHandler())
	protected.Put("/connections/:id", connections.UpdateConnectionHandler())
	protected.Delete("/connections/:id", connections.DeleteConnectionHandler())

	// Снапшоты поставок
	protected.Post("/supplies/connection/:id/snapshot/create", supplies.CreateSnapshotHandler())
	protected.Get("/supplies/connection/:id/snapshots", supplies.ListSnapshotsHandler())
	protected.Get("/supplies/snapshot/:id", supplies.GetSnapshotHandler())
	protected.Put("/supplies/snapshot/:id", supplies.SaveSnapshotHandler())
	protected.Delete("/supplies/snapshot/:id", supplies.DeleteSnapshotHandler())
	protected.Post("/supplies/snapshot/:id/refresh", supplies.RefreshSnapshotHandler())
	protected.Get("/supplies/snapshot/:id/progress", supplies.ProgressStreamHandler())

	// Таблица и сессионное редактирование
	protected.Get("/supplies/snapshot/:id/grid", supplies.GridHandler())
	protected.Patch("/supplies/snapshot/:id/cell", supplies.EditCellHandler())
	protected.Post("/supplies/snapshot/:id/flush", supplies.FlushSessionHandler())

	// Склады отгрузки
	protected.Get("/supplies/warehouses", supplies.SearchWarehousesHandler())

	// Черновики поставок
	protected.Post("/supplies/v2/supply-draft", supplies.CreateDraftHandler())
	protected.Get("/supplies/v2/supply-draft/:id", supplies.GetDraftHandler())
	protected.Post("/supplies/v2/supply-draft/:id/timeslots", supplies.DraftTimeslotsHandler())
	protected.Post("/supplies/v2/supply-draft/:id/create-supply", supplies.CreateSupplyHandler())

	// Audit logs
	protected.Get("/audit-logs", audit.ListAuditLogsHandler())

	log.Println("Сервер запущен на порту:", cfg.HTTPPort)
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		log.Fatal(err)
	}
}
