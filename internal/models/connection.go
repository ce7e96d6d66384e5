package models

import "time"

type Marketplace string

const (
	MarketplaceOzon        Marketplace = "ozon"
	MarketplaceWildberries Marketplace = "wildberries"
)

// APIVersion: поколение протокола создания поставки у маркетплейса.
// v1 — заказ создаётся асинхронно, статус опрашивается клиентом;
// v2 — сервер сам дожидается терминального статуса и возвращает его одним ответом.
type APIVersion string

const (
	APIVersionV1 APIVersion = "v1"
	APIVersionV2 APIVersion = "v2"
)

// Connection: подключение к кабинету маркетплейса (API-ключи компании)
type Connection struct {
	ID          uint `gorm:"primaryKey"`
	CompanyID   uint `gorm:"index;not null"`
	Company     Company
	Name        string      `gorm:"size:100;not null"`
	Marketplace Marketplace `gorm:"size:20;not null"`
	ClientID    string      `gorm:"size:100;not null"`
	APIKey      string      `gorm:"size:255;not null"`
	APIVersion  APIVersion  `gorm:"size:5;not null;default:'v2'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
