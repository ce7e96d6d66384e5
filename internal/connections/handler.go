package connections

import (
	"strings"

	"supplycrm-backend/internal/audit"
	"supplycrm-backend/internal/auth"
	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Подключения к кабинетам маркетплейсов. API-ключ наружу не отдаётся,
// в ответах только маска последних символов.

type ConnectionResponse struct {
	ID           uint   `json:"id"`
	CompanyID    uint   `json:"company_id"`
	Name         string `json:"name"`
	Marketplace  string `json:"marketplace"`
	ClientID     string `json:"client_id"`
	APIKeyMasked string `json:"api_key_masked"`
	APIVersion   string `json:"api_version"`
	CreatedAt    string `json:"created_at"`
}

type CreateConnectionRequest struct {
	CompanyID   uint   `json:"company_id"`
	Name        string `json:"name"`
	Marketplace string `json:"marketplace"`
	ClientID    string `json:"client_id"`
	APIKey      string `json:"api_key"`
	APIVersion  string `json:"api_version"` // по умолчанию v2
}

type UpdateConnectionRequest struct {
	Name       *string `json:"name"`
	ClientID   *string `json:"client_id"`
	APIKey     *string `json:"api_key"`
	APIVersion *string `json:"api_version"`
}

func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func connectionResponse(conn *models.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:           conn.ID,
		CompanyID:    conn.CompanyID,
		Name:         conn.Name,
		Marketplace:  string(conn.Marketplace),
		ClientID:     conn.ClientID,
		APIKeyMasked: maskAPIKey(conn.APIKey),
		APIVersion:   string(conn.APIVersion),
		CreatedAt:    conn.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func validMarketplace(m string) bool {
	switch models.Marketplace(m) {
	case models.MarketplaceOzon, models.MarketplaceWildberries:
		return true
	}
	return false
}

func validAPIVersion(v string) bool {
	switch models.APIVersion(v) {
	case models.APIVersionV1, models.APIVersionV2:
		return true
	}
	return false
}

// companyScope ограничивает оператора подключениями своей компании
func companyScope(c *fiber.Ctx) *uint {
	role, _ := c.Locals(auth.CtxUserRoleKey).(models.UserRole)
	if role == models.RoleSuperAdmin {
		return nil
	}
	companyID, _ := c.Locals(auth.CtxCompanyIDKey).(*uint)
	return companyID
}

func loadConnection(c *fiber.Ctx) (*models.Connection, error) {
	var conn models.Connection
	if err := database.DB.First(&conn, "id = ?", c.Params("id")).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Подключение не найдено")
	}
	if scope := companyScope(c); scope != nil && conn.CompanyID != *scope {
		return nil, fiber.NewError(fiber.StatusForbidden, "Подключение принадлежит другой компании")
	}
	return &conn, nil
}

func writeAudit(c *fiber.Ctx, action models.AuditAction, conn *models.Connection, description string, before any) {
	userID, _ := c.Locals(auth.CtxUserIDKey).(uint)
	companyID := conn.CompanyID
	_ = audit.WriteLog(audit.LogOptions{
		CompanyID:   &companyID,
		UserID:      userID,
		EntityType:  "connection",
		EntityID:    conn.ID,
		Action:      action,
		Description: description,
		Before:      before,
		After:       connectionResponse(conn),
	})
}

func CreateConnectionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateConnectionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}

		body.Name = strings.TrimSpace(body.Name)
		body.ClientID = strings.TrimSpace(body.ClientID)
		body.APIKey = strings.TrimSpace(body.APIKey)

		if body.Name == "" || body.ClientID == "" || body.APIKey == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Название, client_id и api_key обязательны")
		}
		if !validMarketplace(body.Marketplace) {
			return fiber.NewError(fiber.StatusBadRequest, "Неизвестный маркетплейс")
		}
		if body.APIVersion == "" {
			body.APIVersion = string(models.APIVersionV2)
		}
		if !validAPIVersion(body.APIVersion) {
			return fiber.NewError(fiber.StatusBadRequest, "api_version должен быть v1 или v2")
		}

		companyID := body.CompanyID
		if scope := companyScope(c); scope != nil {
			// Оператор создаёт подключения только в своей компании
			companyID = *scope
		}
		if companyID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Не указана компания")
		}

		var company models.Company
		if err := database.DB.First(&company, companyID).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Компания не найдена")
		}

		conn := models.Connection{
			CompanyID:   companyID,
			Name:        body.Name,
			Marketplace: models.Marketplace(body.Marketplace),
			ClientID:    body.ClientID,
			APIKey:      body.APIKey,
			APIVersion:  models.APIVersion(body.APIVersion),
		}
		if err := database.DB.Create(&conn).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось создать подключение")
		}

		writeAudit(c, models.AuditActionCreate, &conn, "Создано подключение "+conn.Name, nil)
		return c.Status(fiber.StatusCreated).JSON(connectionResponse(&conn))
	}
}

func ListConnectionsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := database.DB.Order("created_at DESC")
		if scope := companyScope(c); scope != nil {
			q = q.Where("company_id = ?", *scope)
		} else if companyID := c.Query("company_id"); companyID != "" {
			q = q.Where("company_id = ?", companyID)
		}

		var conns []models.Connection
		if err := q.Find(&conns).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось получить список подключений")
		}

		res := make([]ConnectionResponse, 0, len(conns))
		for i := range conns {
			res = append(res, connectionResponse(&conns[i]))
		}
		return c.JSON(res)
	}
}

func GetConnectionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		conn, err := loadConnection(c)
		if err != nil {
			return err
		}
		return c.JSON(connectionResponse(conn))
	}
}

func UpdateConnectionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		conn, err := loadConnection(c)
		if err != nil {
			return err
		}
		before := connectionResponse(conn)

		var body UpdateConnectionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Название не может быть пустым")
			}
			conn.Name = name
		}
		if body.ClientID != nil {
			conn.ClientID = strings.TrimSpace(*body.ClientID)
		}
		if body.APIKey != nil && strings.TrimSpace(*body.APIKey) != "" {
			conn.APIKey = strings.TrimSpace(*body.APIKey)
		}
		if body.APIVersion != nil {
			if !validAPIVersion(*body.APIVersion) {
				return fiber.NewError(fiber.StatusBadRequest, "api_version должен быть v1 или v2")
			}
			conn.APIVersion = models.APIVersion(*body.APIVersion)
		}

		if err := database.DB.Save(conn).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось обновить подключение")
		}

		writeAudit(c, models.AuditActionUpdate, conn, "Обновлено подключение "+conn.Name, before)
		return c.JSON(connectionResponse(conn))
	}
}

func DeleteConnectionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		conn, err := loadConnection(c)
		if err != nil {
			return err
		}

		if err := database.DB.Delete(conn).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось удалить подключение")
		}

		writeAudit(c, models.AuditActionDelete, conn, "Удалено подключение "+conn.Name, connectionResponse(conn))
		return c.SendStatus(fiber.StatusNoContent)
	}
}
