package supplies

import (
	"encoding/json"
	"fmt"

	"supplycrm-backend/internal/auth"
	"supplycrm-backend/internal/config"
	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/engine"
	"supplycrm-backend/internal/marketplace"
	"supplycrm-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Общее состояние пакета: клиент сервиса рекомендаций, адрес seller-API,
// хаб прогресса и реестр сессий редактирования. Инициализируется один раз
// при старте (в тестах подменяется напрямую).
var (
	engineClient       *engine.Client
	marketplaceBaseURL string

	progressHub = NewProgressHub()
	sessions    = NewSessionManager()
)

func Init(cfg *config.Config) {
	engineClient = engine.NewClient(cfg.EngineBaseURL, cfg.EngineToken)
	marketplaceBaseURL = cfg.MarketplaceBaseURL
}

// marketplaceClient строит клиента seller-API по реквизитам подключения
func marketplaceClient(conn *models.Connection) *marketplace.Client {
	return marketplace.NewClient(marketplaceBaseURL, conn)
}

func loadSnapshot(id string) (*models.SupplySnapshot, error) {
	var snap models.SupplySnapshot
	if err := database.DB.Preload("Connection").First(&snap, "id = ?", id).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Снапшот не найден")
	}
	return &snap, nil
}

func decodeRows(snap *models.SupplySnapshot) ([]models.ProductSupplyRow, error) {
	if len(snap.Data) == 0 {
		return nil, nil
	}
	var rows []models.ProductSupplyRow
	if err := json.Unmarshal(snap.Data, &rows); err != nil {
		return nil, fmt.Errorf("повреждены данные снапшота %d: %w", snap.ID, err)
	}
	return rows, nil
}

func encodeRows(rows []models.ProductSupplyRow) ([]byte, error) {
	if rows == nil {
		rows = []models.ProductSupplyRow{}
	}
	return json.Marshal(rows)
}

// getUserInfo достаёт пользователя из JWT-контекста для audit-логов
func getUserInfo(c *fiber.Ctx) (userID uint, userName string, companyID *uint, err error) {
	idVal := c.Locals(auth.CtxUserIDKey)
	id, ok := idVal.(uint)
	if !ok {
		return 0, "", nil, fmt.Errorf("нет пользователя в контексте")
	}

	var user models.User
	if dbErr := database.DB.First(&user, id).Error; dbErr != nil {
		return id, "", nil, nil
	}
	return user.ID, user.Name, user.CompanyID, nil
}
