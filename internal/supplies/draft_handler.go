package supplies

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"supplycrm-backend/internal/audit"
	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/marketplace"
	"supplycrm-backend/internal/models"
	"supplycrm-backend/internal/planner"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

// Рабочий процесс черновика поставки: создание из кластера снапшота, выбор
// склада хранения, таймслота и создание заказа. Черновик с заказом
// терминален; выбор склада и слота — состояние интерфейса, при смене склада
// слот сбрасывается на клиенте.

// MismatchWarning: склад готов принять меньше, чем запрошено. Не блокирует
// создание заказа, но оператор должен увидеть урезанные позиции до
// подтверждения.
type MismatchWarning struct {
	OfferID     string `json:"offer_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Accepted    int    `json:"accepted"`
}

func mismatchWarnings(candidates []models.WarehouseCandidate) []MismatchWarning {
	var warnings []MismatchWarning
	for _, cand := range candidates {
		for _, p := range cand.Products {
			if p.Quantity != p.ExpectedQuantity {
				warnings = append(warnings, MismatchWarning{
					OfferID:     p.OfferID,
					ProductName: p.ProductName,
					Requested:   p.ExpectedQuantity,
					Accepted:    p.Quantity,
				})
			}
		}
	}
	return warnings
}

// DraftResponse: черновик в ответах API
type DraftResponse struct {
	ID              uint   `json:"id"`
	ExternalDraftID *int64 `json:"draft_id"`
	SnapshotID      uint   `json:"snapshot_id"`

	ClusterID   int64  `json:"cluster_id"`
	ClusterName string `json:"cluster_name"`

	DropOff models.WarehouseRef `json:"drop_off_warehouse"`

	Status models.DraftStatus `json:"status"`
	Errors []string           `json:"errors"`

	StorageWarehouses []models.WarehouseCandidate `json:"storage_warehouses"`
	// Явный признак для интерфейса: складов нет — дальнейшие шаги не
	// предлагаются
	NoAvailableWarehouses bool              `json:"no_available_warehouses"`
	Warnings              []MismatchWarning `json:"warnings"`

	SupplyCreateInfo *SupplyCreateInfo `json:"supply_create_info"`

	CreatedAt string `json:"created_at"`
	Expired   bool   `json:"expired"`
}

type SupplyCreateInfo struct {
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

func draftResponse(draft *models.SupplyDraft) *DraftResponse {
	var warehouses []models.WarehouseCandidate
	if len(draft.StorageWarehouses) > 0 {
		_ = json.Unmarshal(draft.StorageWarehouses, &warehouses)
	}
	var draftErrors []string
	if len(draft.Errors) > 0 {
		_ = json.Unmarshal(draft.Errors, &draftErrors)
	}
	if draftErrors == nil {
		draftErrors = []string{}
	}
	if warehouses == nil {
		warehouses = []models.WarehouseCandidate{}
	}

	resp := &DraftResponse{
		ID:              draft.ID,
		ExternalDraftID: draft.ExternalDraftID,
		SnapshotID:      draft.SnapshotID,
		ClusterID:       draft.ClusterID,
		ClusterName:     draft.ClusterName,
		DropOff: models.WarehouseRef{
			ID:   draft.DropOffWarehouseID,
			Name: draft.DropOffWarehouse,
		},
		Status:                draft.Status,
		Errors:                draftErrors,
		StorageWarehouses:     warehouses,
		NoAvailableWarehouses: len(warehouses) == 0,
		Warnings:              mismatchWarnings(warehouses),
		CreatedAt:             draft.CreatedAt.Format("2006-01-02 15:04:05"),
		Expired:               draft.Expired(time.Now()),
	}
	if draft.SupplyOrderID != nil {
		resp.SupplyCreateInfo = &SupplyCreateInfo{
			OrderID: *draft.SupplyOrderID,
			Status:  draft.OrderStatus,
		}
	}
	return resp
}

func applyMarketplaceDraft(draft *models.SupplyDraft, mp *marketplace.DraftResponse) {
	if mp.DraftID != nil {
		draft.ExternalDraftID = mp.DraftID
	}
	if mp.Status != "" {
		draft.Status = models.DraftStatus(mp.Status)
	}
	if b, err := json.Marshal(mp.Errors); err == nil {
		draft.Errors = datatypes.JSON(b)
	}
	if b, err := json.Marshal(mp.StorageWarehouses); err == nil {
		draft.StorageWarehouses = datatypes.JSON(b)
	}
}

type CreateDraftBody struct {
	SnapshotID      uint   `json:"snapshot_id"`
	ClusterName     string `json:"cluster_name"`
	DeletionSKUMode string `json:"deletion_sku_mode"`
}

// POST /api/supplies/v2/supply-draft
// Черновик собирается из строк снапшота с положительным количеством в
// кластере (с учётом несохранённых правок открытой сессии)
func CreateDraftHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateDraftBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}
		if body.SnapshotID == 0 || body.ClusterName == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Нужны snapshot_id и cluster_name")
		}

		snap, err := loadSnapshot(fmt.Sprint(body.SnapshotID))
		if err != nil {
			return err
		}

		session, err := sessionFor(snap)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось прочитать данные снапшота")
		}
		rows := session.Rows()

		items := planner.DraftItems(rows, body.ClusterName)
		if len(items) == 0 {
			return fiber.NewError(fiber.StatusBadRequest,
				fmt.Sprintf("В кластере %s нет позиций с положительным количеством к поставке", body.ClusterName))
		}

		var clusterID int64
		for _, row := range rows {
			for _, cl := range row.Clusters {
				if cl.ClusterName == body.ClusterName {
					clusterID = cl.ClusterID
					break
				}
			}
		}

		reqItems := make([]marketplace.DraftItemRequest, 0, len(items))
		for _, it := range items {
			reqItems = append(reqItems, marketplace.DraftItemRequest{
				OfferID:  it.OfferID,
				SKU:      it.SKU,
				Quantity: it.Quantity,
			})
		}

		client := marketplaceClient(&snap.Connection)
		mpDraft, err := client.CreateDraft(c.Context(), marketplace.CreateDraftRequest{
			ConnectionID: snap.ConnectionID,
			SnapshotID:   snap.ID,
			DropOffWarehouse: models.WarehouseRef{
				ID:      snap.DropOffWarehouseID,
				Name:    snap.DropOffWarehouse,
				Address: snap.DropOffAddress,
			},
			ClusterName:     body.ClusterName,
			Items:           reqItems,
			DeletionSKUMode: body.DeletionSKUMode,
		})
		if err != nil {
			// Нефатальный сбой: черновик не сохраняем, перехода нет
			log.Printf("Снапшот %d: черновик для кластера %s не принят: %v", snap.ID, body.ClusterName, err)
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}

		draft := models.SupplyDraft{
			SnapshotID:         snap.ID,
			ClusterID:          clusterID,
			ClusterName:        body.ClusterName,
			DropOffWarehouseID: snap.DropOffWarehouseID,
			DropOffWarehouse:   snap.DropOffWarehouse,
			Status:             models.DraftStatusInProgress,
		}
		applyMarketplaceDraft(&draft, mpDraft)

		if err := database.DB.Create(&draft).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось сохранить черновик")
		}

		if userID, userName, companyID, uErr := getUserInfo(c); uErr == nil {
			_ = audit.WriteLog(audit.LogOptions{
				CompanyID:   companyID,
				UserID:      userID,
				UserName:    userName,
				EntityType:  "supply_draft",
				EntityID:    draft.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Создан черновик поставки: кластер %s, %d позиций", body.ClusterName, len(items)),
				After:       draft,
			})
		}

		return c.Status(fiber.StatusCreated).JSON(draftResponse(&draft))
	}
}

func loadDraft(id string) (*models.SupplyDraft, error) {
	var draft models.SupplyDraft
	if err := database.DB.Preload("Snapshot.Connection").First(&draft, "id = ?", id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Черновик не найден")
	}
	return &draft, nil
}

// GET /api/supplies/v2/supply-draft/:id
// Нетерминальный черновик обновляется из маркетплейса (статус и
// классификация доступности складов)
func GetDraftHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		draft, err := loadDraft(c.Params("id"))
		if err != nil {
			return err
		}

		if !draft.Terminal() && !draft.Expired(time.Now()) && draft.ExternalDraftID != nil {
			client := marketplaceClient(&draft.Snapshot.Connection)
			mpDraft, mpErr := client.GetDraft(c.Context(), *draft.ExternalDraftID)
			if mpErr != nil {
				// Показываем последнее известное состояние
				log.Printf("Черновик %d: не удалось обновить из маркетплейса: %v", draft.ID, mpErr)
			} else {
				applyMarketplaceDraft(draft, mpDraft)
				if saveErr := database.DB.Save(draft).Error; saveErr != nil {
					log.Printf("Черновик %d: не удалось сохранить обновление: %v", draft.ID, saveErr)
				}
			}
		}

		return c.JSON(draftResponse(draft))
	}
}

type TimeslotsBody struct {
	Pairs []marketplace.ClusterWarehousePair `json:"selected_cluster_warehouses"`
}

// POST /api/supplies/v2/supply-draft/:id/timeslots
func DraftTimeslotsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		draft, err := loadDraft(c.Params("id"))
		if err != nil {
			return err
		}
		if draft.Terminal() {
			return fiber.NewError(fiber.StatusBadRequest, "Заказ по черновику уже создан")
		}
		if draft.ExternalDraftID == nil {
			return fiber.NewError(fiber.StatusBadRequest, "Черновик ещё не принят маркетплейсом")
		}

		var body TimeslotsBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}
		if len(body.Pairs) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Не выбран склад хранения")
		}

		client := marketplaceClient(&draft.Snapshot.Connection)
		days, err := client.Timeslots(c.Context(), *draft.ExternalDraftID, body.Pairs)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}

		return c.JSON(fiber.Map{"days": GroupTimeslots(days)})
	}
}

type CreateSupplyBody struct {
	Pairs    []marketplace.ClusterWarehousePair `json:"selected_cluster_warehouses"`
	Timeslot *models.Timeslot                   `json:"timeslot"`
}

// POST /api/supplies/v2/supply-draft/:id/create-supply
// Создание заказа. Для подключений v2 результат приходит одним ответом, для
// v1 клиент маркетплейса опрашивает статус с бюджетом попыток; исчерпание
// бюджета отличимо от провала — заказ может довершиться на стороне
// маркетплейса.
func CreateSupplyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		draft, err := loadDraft(c.Params("id"))
		if err != nil {
			return err
		}
		if draft.Terminal() {
			return fiber.NewError(fiber.StatusBadRequest, "Заказ по черновику уже создан")
		}
		if draft.Expired(time.Now()) {
			return fiber.NewError(fiber.StatusBadRequest, "Черновик истёк, создайте новый")
		}
		if draft.ExternalDraftID == nil {
			return fiber.NewError(fiber.StatusBadRequest, "Черновик ещё не принят маркетплейсом")
		}

		var body CreateSupplyBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}
		if len(body.Pairs) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Не выбран склад хранения")
		}
		if body.Timeslot == nil || body.Timeslot.From == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Не выбран таймслот")
		}

		client := marketplaceClient(&draft.Snapshot.Connection)
		result, err := client.CreateSupply(c.Context(), *draft.ExternalDraftID, body.Pairs, *body.Timeslot)
		if err != nil {
			if errors.Is(err, marketplace.ErrTimeout) {
				return fiber.NewError(fiber.StatusGatewayTimeout,
					"Превышено время ожидания: заказ может ещё создаться на стороне маркетплейса")
			}
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}

		draft.OrderStatus = result.Status
		if result.Success() {
			draft.Status = models.DraftStatusSuccess
			draft.SupplyOrderID = result.OrderID
		} else {
			draft.Status = models.DraftStatusFailed
			if b, jsonErr := json.Marshal(result.ErrorReasons); jsonErr == nil {
				draft.Errors = datatypes.JSON(b)
			}
		}
		if err := database.DB.Save(draft).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось сохранить результат заказа")
		}

		if userID, userName, companyID, uErr := getUserInfo(c); uErr == nil {
			_ = audit.WriteLog(audit.LogOptions{
				CompanyID:   companyID,
				UserID:      userID,
				UserName:    userName,
				EntityType:  "supply_draft",
				EntityID:    draft.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Создание заказа по черновику: %s", result.Status),
				After:       draft,
			})
		}

		return c.JSON(fiber.Map{
			"status":        result.Status,
			"order_id":      result.OrderID,
			"error_reasons": result.ErrorReasons,
		})
	}
}
