package companies

import (
	"strings"

	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

type CompanyResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	INN       string `json:"inn"`
	CreatedAt string `json:"created_at"`
}

type CreateCompanyRequest struct {
	Name string  `json:"name"`
	INN  *string `json:"inn"` // опционально
}

type UpdateCompanyRequest struct {
	Name *string `json:"name"`
	INN  *string `json:"inn"`
}

type CreateOperatorRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type OperatorResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CompanyID *uint  `json:"company_id"`
	CreatedAt string `json:"created_at"`
}

func companyResponse(c *models.Company) CompanyResponse {
	return CompanyResponse{
		ID:        c.ID,
		Name:      c.Name,
		INN:       c.INN,
		CreatedAt: c.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func CreateCompanyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateCompanyRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}

		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Название компании не может быть пустым")
		}

		company := models.Company{Name: body.Name}
		if body.INN != nil {
			company.INN = strings.TrimSpace(*body.INN)
		}

		if err := database.DB.Create(&company).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось создать компанию")
		}

		return c.Status(fiber.StatusCreated).JSON(companyResponse(&company))
	}
}

func ListCompaniesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var companies []models.Company
		if err := database.DB.Order("name").Find(&companies).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось получить список компаний")
		}

		res := make([]CompanyResponse, 0, len(companies))
		for i := range companies {
			res = append(res, companyResponse(&companies[i]))
		}
		return c.JSON(res)
	}
}

func GetCompanyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var company models.Company
		if err := database.DB.First(&company, "id = ?", c.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Компания не найдена")
		}
		return c.JSON(companyResponse(&company))
	}
}

func UpdateCompanyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var company models.Company
		if err := database.DB.First(&company, "id = ?", c.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Компания не найдена")
		}

		var body UpdateCompanyRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Название компании не может быть пустым")
			}
			company.Name = name
		}
		if body.INN != nil {
			company.INN = strings.TrimSpace(*body.INN)
		}

		if err := database.DB.Save(&company).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось обновить компанию")
		}
		return c.JSON(companyResponse(&company))
	}
}

func DeleteCompanyHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := database.DB.Delete(&models.Company{}, "id = ?", c.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось удалить компанию")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/admin/companies/:id/operators
// Оператор привязан к компании и видит только её подключения
func CreateOperatorHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var company models.Company
		if err := database.DB.First(&company, "id = ?", c.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Компания не найдена")
		}

		var body CreateOperatorRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Некорректное тело запроса")
		}

		body.Email = strings.ToLower(strings.TrimSpace(body.Email))
		body.Name = strings.TrimSpace(body.Name)
		if body.Name == "" || body.Email == "" || body.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Имя, email и пароль обязательны")
		}

		var exist models.User
		if err := database.DB.Where("email = ?", body.Email).First(&exist).Error; err == nil {
			return fiber.NewError(fiber.StatusBadRequest, "Этот email уже зарегистрирован")
		}

		hash, _ := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)

		user := models.User{
			Name:         body.Name,
			Email:        body.Email,
			PasswordHash: string(hash),
			Role:         models.RoleOperator,
			CompanyID:    &company.ID,
		}
		if err := database.DB.Create(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось создать оператора")
		}

		return c.Status(fiber.StatusCreated).JSON(OperatorResponse{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			Role:      string(user.Role),
			CompanyID: user.CompanyID,
			CreatedAt: user.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
}

func ListOperatorsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var users []models.User
		if err := database.DB.
			Where("company_id = ? AND role = ?", c.Params("id"), models.RoleOperator).
			Order("created_at DESC").
			Find(&users).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Не удалось получить список операторов")
		}

		res := make([]OperatorResponse, 0, len(users))
		for _, u := range users {
			res = append(res, OperatorResponse{
				ID:        u.ID,
				Name:      u.Name,
				Email:     u.Email,
				Role:      string(u.Role),
				CompanyID: u.CompanyID,
				CreatedAt: u.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		return c.JSON(res)
	}
}
