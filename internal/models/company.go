package models

import "time"

// Company: компания-продавец, владелец подключений к маркетплейсам
type Company struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:100;not null;unique"`
	INN       string `gorm:"size:20"` // ИНН, опционально
	CreatedAt time.Time
	UpdatedAt time.Time

	Users       []User
	Connections []Connection
}
