package supplies

import (
	"strings"

	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Максимум складов в выдаче подсказки
const warehouseSearchLimit = 30

// GET /api/supplies/warehouses/?connection_id=&search=
// Подсказка склада отгрузки. Запрос к маркетплейсу уходит только от 4
// символов — короткие подстроки дают тысячи совпадений и бесполезны для
// выбора.
func SearchWarehousesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		connectionID := c.Query("connection_id")
		if connectionID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Не указан connection_id")
		}

		search := strings.TrimSpace(c.Query("search"))
		if len([]rune(search)) < 4 {
			return c.JSON(fiber.Map{"warehouses": []models.WarehouseRef{}})
		}

		var conn models.Connection
		if err := database.DB.First(&conn, "id = ?", connectionID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Подключение не найдено")
		}

		client := marketplaceClient(&conn)
		warehouses, err := client.SearchWarehouses(c.Context(), search)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}

		if len(warehouses) > warehouseSearchLimit {
			warehouses = warehouses[:warehouseSearchLimit]
		}
		return c.JSON(fiber.Map{"warehouses": warehouses})
	}
}
