package supplies

import (
	"errors"

	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/models"
	"supplycrm-backend/internal/planner"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

// Сессионное редактирование таблицы: правки ячеек применяются в памяти и
// уезжают в базу отложенным сохранением (session.go). Представление таблицы
// (колонки, валидность) строится пакетом planner.

func sessionFor(snap *models.SupplySnapshot) (*EditSession, error) {
	return sessions.GetOrCreate(snap.ID, func() (*EditSession, error) {
		rows, err := decodeRows(snap)
		if err != nil {
			return nil, err
		}

		snapshotID := snap.ID
		save := func(rows []models.ProductSupplyRow) error {
			data, err := encodeRows(rows)
			if err != nil {
				return err
			}
			return database.DB.Model(&models.SupplySnapshot{}).
				Where("id = ?", snapshotID).
				Update("data", datatypes.JSON(data)).Error
		}

		return NewEditSession(rows, save), nil
	})
}

// GridResponse: табличное представление снапшота
type GridResponse struct {
	Columns          []planner.ClusterColumn   `json:"columns"`
	ShowTotals       bool                      `json:"show_totals"`
	Rows             []models.ProductSupplyRow `json:"rows"`
	HasInvalidValues bool                      `json:"has_invalid_values"`
}

// GET /api/supplies/snapshot/:id/grid?cluster=
// Колонки выводятся объединением кластеров по всем строкам; пустые соседние
// кластеры подавляются при выключенном флаге соседних поставок.
func GridHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := loadSnapshot(c.Params("id"))
		if err != nil {
			return err
		}

		session, err := sessionFor(snap)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось прочитать данные снапшота")
		}

		rows := session.Rows()
		cols, showTotals := planner.Columns(rows, planner.ColumnOptions{
			NeighborSupply: snap.NeighborSupply,
			NameFilter:     c.Query("cluster"),
		})

		return c.JSON(GridResponse{
			Columns:          cols,
			ShowTotals:       showTotals,
			Rows:             rows,
			HasInvalidValues: planner.HasInvalidValues(rows),
		})
	}
}

type EditCellRequest struct {
	OfferID     string `json:"offer_id"`
	ClusterName string `json:"cluster_name"`
	ToSupply    int    `json:"to_supply"`
}

// PATCH /api/supplies/snapshot/:id/cell
// Правка одной ячейки. Ответ сразу отражает пересчитанный итог строки;
// сохранение уйдёт после паузы в правках.
func EditCellHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := loadSnapshot(c.Params("id"))
		if err != nil {
			return err
		}

		var body EditCellRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}
		if body.OfferID == "" || body.ClusterName == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Нужны offer_id и cluster_name")
		}

		session, err := sessionFor(snap)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось прочитать данные снапшота")
		}

		if err := session.Edit(body.OfferID, body.ClusterName, body.ToSupply); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rows := session.Rows()
		return c.JSON(fiber.Map{
			"has_invalid_values": planner.HasInvalidValues(rows),
			"cell_valid":         cellValidFor(rows, body.OfferID, body.ClusterName),
		})
	}
}

func cellValidFor(rows []models.ProductSupplyRow, offerID, clusterName string) bool {
	for _, row := range rows {
		if row.OfferID != offerID {
			continue
		}
		for _, cl := range row.Clusters {
			if cl.ClusterName == clusterName {
				return planner.CellValid(row.BoxCount, cl.ToSupply)
			}
		}
	}
	return false
}

// POST /api/supplies/snapshot/:id/flush
// Немедленное сохранение сессии (уход со страницы)
func FlushSessionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := loadSnapshot(c.Params("id"))
		if err != nil {
			return err
		}

		session, err := sessionFor(snap)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось прочитать данные снапшота")
		}

		if err := session.Flush(); err != nil {
			if errors.Is(err, ErrInvalidCells) {
				return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось сохранить снапшот")
		}
		return c.JSON(fiber.Map{"message": "Снапшот сохранён"})
	}
}
