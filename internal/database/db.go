package database

import (
	"log"

	"supplycrm-backend/internal/config"
	"supplycrm-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Init(cfg *config.Config) {
	var err error

	DB, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Не удалось подключиться к базе данных: %v", err)
	}

	// Connection.api_version появился после перехода на синхронный протокол
	// создания поставок. Старые подключения помечаем как v1 (до AutoMigrate,
	// чтобы не потерять существующие записи).
	if DB.Migrator().HasTable(&models.Connection{}) {
		if !DB.Migrator().HasColumn(&models.Connection{}, "api_version") {
			log.Println("Добавляется колонка connections.api_version...")
			if err := DB.Exec("ALTER TABLE connections ADD COLUMN api_version VARCHAR(5)").Error; err != nil {
				log.Printf("Ошибка при добавлении api_version (возможно колонка уже есть): %v", err)
			} else {
				DB.Exec("UPDATE connections SET api_version = 'v1' WHERE api_version IS NULL")
				log.Println("Существующие подключения помечены как api_version=v1")
			}
		}
	}

	err = DB.AutoMigrate(
		&models.Company{},
		&models.User{},
		&models.Connection{},
		&models.SupplySnapshot{},
		&models.SupplyDraft{},
		&models.AuditLog{},
	)
	if err != nil {
		log.Fatalf("Ошибка AutoMigrate: %v", err)
	}

	log.Println("Подключение к базе данных установлено. Миграция завершена.")
}
