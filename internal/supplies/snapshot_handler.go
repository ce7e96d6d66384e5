package supplies

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"

	"supplycrm-backend/internal/audit"
	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/engine"
	"supplycrm-backend/internal/models"
	"supplycrm-backend/internal/planner"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"
)

// SnapshotResponse: снапшот в ответах API
type SnapshotResponse struct {
	ID             uint                      `json:"id"`
	ConnectionID   uint                      `json:"connection_id"`
	Strategy       models.CalcStrategy       `json:"strategy"`
	ClusterIDs     []int64                   `json:"cluster_ids"`
	OfferIDs       []string                  `json:"offer_ids"`
	NeighborSupply bool                      `json:"neighbor_supply"`
	DropOff        models.WarehouseRef       `json:"drop_off_warehouse"`
	Data           []models.ProductSupplyRow `json:"data"`
	UpdatedAt      string                    `json:"updated_at"`
}

func snapshotResponse(snap *models.SupplySnapshot) (*SnapshotResponse, error) {
	rows, err := decodeRows(snap)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.ProductSupplyRow{}
	}

	var clusterIDs []int64
	if len(snap.ClusterIDs) > 0 {
		_ = json.Unmarshal(snap.ClusterIDs, &clusterIDs)
	}
	var offerIDs []string
	if len(snap.OfferIDs) > 0 {
		_ = json.Unmarshal(snap.OfferIDs, &offerIDs)
	}

	return &SnapshotResponse{
		ID:             snap.ID,
		ConnectionID:   snap.ConnectionID,
		Strategy:       snap.Strategy,
		ClusterIDs:     clusterIDs,
		OfferIDs:       offerIDs,
		NeighborSupply: snap.NeighborSupply,
		DropOff: models.WarehouseRef{
			ID:      snap.DropOffWarehouseID,
			Name:    snap.DropOffWarehouse,
			Address: snap.DropOffAddress,
		},
		Data:      rows,
		UpdatedAt: snap.UpdatedAt.Format("2006-01-02 15:04:05"),
	}, nil
}

func parseConfig(raw []byte) (*models.SnapshotConfig, error) {
	var cfg models.SnapshotConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Некорректная конфигурация расчёта")
	}
	if cfg.Strategy == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Не указана стратегия расчёта")
	}
	// Склад отгрузки обязателен: без него нечего считать и некуда везти
	if cfg.DropOffWarehouse == nil || cfg.DropOffWarehouse.ID == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Не указан склад отгрузки")
	}
	return &cfg, nil
}

func applyConfig(snap *models.SupplySnapshot, cfg *models.SnapshotConfig) {
	snap.Strategy = cfg.Strategy
	snap.NeighborSupply = cfg.NeighborSupply
	snap.DropOffWarehouseID = cfg.DropOffWarehouse.ID
	snap.DropOffWarehouse = cfg.DropOffWarehouse.Name
	snap.DropOffAddress = cfg.DropOffWarehouse.Address

	if len(cfg.ClusterIDs) > 0 {
		b, _ := json.Marshal(cfg.ClusterIDs)
		snap.ClusterIDs = datatypes.JSON(b)
	} else {
		snap.ClusterIDs = nil
	}
	if len(cfg.OfferIDs) > 0 {
		b, _ := json.Marshal(cfg.OfferIDs)
		snap.OfferIDs = datatypes.JSON(b)
	} else {
		snap.OfferIDs = nil
	}
}

// POST /api/supplies/connection/:id/snapshot/create
// Multipart: поле config (JSON) + опциональный xlsx с переопределениями
func CreateSnapshotHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var conn models.Connection
		if err := database.DB.First(&conn, "id = ?", c.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Подключение не найдено")
		}

		cfg, err := parseConfig([]byte(c.FormValue("config")))
		if err != nil {
			return err
		}

		var overrides map[string]int
		if fileHeader, fileErr := c.FormFile("file"); fileErr == nil {
			file, openErr := fileHeader.Open()
			if openErr != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "Не удалось открыть файл")
			}
			defer file.Close()

			overrides, err = parseOverridesXLSX(file)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		} else if cfg.Strategy == models.StrategyManualXLSX {
			return fiber.NewError(fiber.StatusBadRequest, "Для стратегии manual_xlsx нужен файл с количествами")
		}

		snap := models.SupplySnapshot{ConnectionID: conn.ID}
		applyConfig(&snap, cfg)

		if err := database.DB.Create(&snap).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось создать снапшот")
		}

		taskID, err := engineClient.SubmitTask(c.Context(), engine.TaskRequest{
			SnapshotID:   snap.ID,
			ConnectionID: conn.ID,
			Config:       *cfg,
			Overrides:    overrides,
		})
		if err != nil {
			// Снапшот без задачи расчёта бесполезен
			database.DB.Delete(&models.SupplySnapshot{}, snap.ID)
			log.Printf("Снапшот для подключения %d: постановка задачи не удалась: %v", conn.ID, err)
			return fiber.NewError(fiber.StatusBadGateway, "Сервис рекомендаций недоступен, попробуйте позже")
		}

		progressHub.Run(snap.ID, taskID)

		if userID, userName, companyID, uErr := getUserInfo(c); uErr == nil {
			_ = audit.WriteLog(audit.LogOptions{
				CompanyID:   companyID,
				UserID:      userID,
				UserName:    userName,
				EntityType:  "supply_snapshot",
				EntityID:    snap.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Создан снапшот поставок (стратегия %s)", cfg.Strategy),
				After:       snap,
			})
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"snapshot_id": snap.ID,
			"task_id":     taskID,
		})
	}
}

// SnapshotListItem: снапшот в списке без тяжёлого поля data
type SnapshotListItem struct {
	ID             uint                `json:"id"`
	Strategy       models.CalcStrategy `json:"strategy"`
	NeighborSupply bool                `json:"neighbor_supply"`
	DropOff        models.WarehouseRef `json:"drop_off_warehouse"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

// GET /api/supplies/connection/:id/snapshots
func ListSnapshotsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var snaps []models.SupplySnapshot
		if err := database.DB.
			Omit("data").
			Where("connection_id = ?", c.Params("id")).
			Order("updated_at DESC").
			Find(&snaps).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось получить список снапшотов")
		}

		res := make([]SnapshotListItem, 0, len(snaps))
		for _, s := range snaps {
			res = append(res, SnapshotListItem{
				ID:             s.ID,
				Strategy:       s.Strategy,
				NeighborSupply: s.NeighborSupply,
				DropOff: models.WarehouseRef{
					ID:      s.DropOffWarehouseID,
					Name:    s.DropOffWarehouse,
					Address: s.DropOffAddress,
				},
				CreatedAt: s.CreatedAt.Format("2006-01-02 15:04:05"),
				UpdatedAt: s.UpdatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		return c.JSON(res)
	}
}

// POST /api/supplies/snapshot/:id/refresh
// Пересчёт с новой конфигурацией; id снапшота сохраняется
func RefreshSnapshotHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := loadSnapshot(c.Params("id"))
		if err != nil {
			return err
		}

		cfg, err := parseConfig(c.Body())
		if err != nil {
			return err
		}

		applyConfig(snap, cfg)
		if err := database.DB.Save(snap).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось обновить конфигурацию снапшота")
		}

		taskID, err := engineClient.SubmitTask(c.Context(), engine.TaskRequest{
			SnapshotID:   snap.ID,
			ConnectionID: snap.ConnectionID,
			Config:       *cfg,
		})
		if err != nil {
			log.Printf("Снапшот %d: постановка задачи пересчёта не удалась: %v", snap.ID, err)
			return fiber.NewError(fiber.StatusBadGateway, "Сервис рекомендаций недоступен, попробуйте позже")
		}

		progressHub.Run(snap.ID, taskID)

		return c.JSON(fiber.Map{
			"snapshot_id": snap.ID,
			"task_id":     taskID,
		})
	}
}

// GET /api/supplies/snapshot/:id
func GetSnapshotHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := loadSnapshot(c.Params("id"))
		if err != nil {
			return err
		}

		resp, err := snapshotResponse(snap)
		if err != nil {
			log.Printf("Снапшот %s: %v", c.Params("id"), err)
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось прочитать данные снапшота")
		}

		// Открытая сессия может держать правки, ещё не доехавшие до базы —
		// снапшот и таблица не должны расходиться в окне дебаунса
		if s := sessions.Peek(snap.ID); s != nil {
			resp.Data = s.Rows()
		}
		return c.JSON(resp)
	}
}

type SaveSnapshotRequest struct {
	Data []models.ProductSupplyRow `json:"data"`
}

// PUT /api/supplies/snapshot/:id
// Полное сохранение таблицы. Сервер независимо проверяет кратность короба:
// клиентская блокировка — это удобство, а не граница доверия.
func SaveSnapshotHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := loadSnapshot(c.Params("id"))
		if err != nil {
			return err
		}

		var body SaveSnapshotRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}

		if planner.HasInvalidValues(body.Data) {
			return fiber.NewError(fiber.StatusUnprocessableEntity, "В таблице есть значения, не кратные коробу")
		}

		data, err := encodeRows(body.Data)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось сериализовать данные")
		}

		snap.Data = datatypes.JSON(data)
		if err := database.DB.Save(snap).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось сохранить снапшот")
		}

		// Открытая сессия редактирования строится поверх старых данных
		sessions.Drop(snap.ID)

		if userID, userName, companyID, uErr := getUserInfo(c); uErr == nil {
			_ = audit.WriteLog(audit.LogOptions{
				CompanyID:   companyID,
				UserID:      userID,
				UserName:    userName,
				EntityType:  "supply_snapshot",
				EntityID:    snap.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Сохранена таблица поставок (%d строк)", len(body.Data)),
			})
		}

		resp, err := snapshotResponse(snap)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось прочитать данные снапшота")
		}
		return c.JSON(resp)
	}
}

// DELETE /api/supplies/snapshot/:id
func DeleteSnapshotHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := loadSnapshot(c.Params("id"))
		if err != nil {
			return err
		}

		if err := database.DB.Delete(snap).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось удалить снапшот")
		}

		sessions.Drop(snap.ID)

		if userID, userName, companyID, uErr := getUserInfo(c); uErr == nil {
			_ = audit.WriteLog(audit.LogOptions{
				CompanyID:   companyID,
				UserID:      userID,
				UserName:    userName,
				EntityType:  "supply_snapshot",
				EntityID:    snap.ID,
				Action:      models.AuditActionDelete,
				Description: "Удалён снапшот поставок",
				Before:      snap,
			})
		}

		return c.JSON(fiber.Map{"message": "Снапшот удалён"})
	}
}

// GET /api/supplies/snapshot/:id/progress?task_id=
// SSE-поток прогресса расчёта. Кадры: "event: <имя>\ndata: <JSON>\n\n".
func ProgressStreamHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := loadSnapshot(c.Params("id"))
		if err != nil {
			return err
		}

		taskID := c.Query("task_id")
		if taskID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Не указан task_id")
		}

		ch, unsubscribe, last := progressHub.Subscribe(snap.ID, taskID)
		if ch == nil && last == nil {
			return fiber.NewError(fiber.StatusNotFound, "Задача расчёта не найдена")
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer unsubscribe()

			if last != nil {
				if writeSSE(w, *last) != nil {
					return
				}
			}
			if ch == nil {
				return
			}

			for ev := range ch {
				if writeSSE(w, ev) != nil {
					// Клиент отключился — отписка закроет ретранслятору дорогу
					return
				}
				if ev.Terminal() {
					return
				}
			}
		}))

		return nil
	}
}

func writeSSE(w *bufio.Writer, ev engine.ProgressEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	return w.Flush()
}
