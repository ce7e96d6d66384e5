package models

import (
	"time"

	"gorm.io/datatypes"
)

type DraftStatus string

const (
	DraftStatusNone       DraftStatus = ""
	DraftStatusInProgress DraftStatus = "in_progress"
	DraftStatusSuccess    DraftStatus = "success"
	DraftStatusFailed     DraftStatus = "failed"
	DraftStatusExpired    DraftStatus = "expired"
)

// DraftTTL: окно актуальности черновика. После него черновик показывается как
// истёкший (только отображение, источник истины — маркетплейс).
const DraftTTL = 30 * time.Minute

// SupplyDraft: черновик поставки — один кластер снапшота, превращённый в
// заявку на отгрузку. Черновик с заполненным SupplyOrderID терминален и не
// редактируется.
type SupplyDraft struct {
	ID              uint `gorm:"primaryKey"`
	SnapshotID      uint `gorm:"index;not null"`
	Snapshot        SupplySnapshot
	ExternalDraftID *int64 `gorm:"index"` // id, выданный маркетплейсом после приёма черновика

	ClusterID   int64  `gorm:"not null"`
	ClusterName string `gorm:"size:100;not null"`

	// Склад отгрузки копируется из снапшота на момент создания
	DropOffWarehouseID int64  `gorm:"not null"`
	DropOffWarehouse   string `gorm:"size:255;not null"`

	Status            DraftStatus    `gorm:"size:20"`
	Errors            datatypes.JSON // список ошибок от маркетплейса
	StorageWarehouses datatypes.JSON // []WarehouseCandidate — классификация доступности складов

	// Результат создания заказа
	SupplyOrderID *int64 `gorm:"index"`
	OrderStatus   string `gorm:"size:20"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired: истёк ли черновик по клиентскому окну актуальности
func (d *SupplyDraft) Expired(now time.Time) bool {
	return now.Sub(d.CreatedAt) > DraftTTL
}

// Terminal: черновик с созданным заказом дальше не редактируется
func (d *SupplyDraft) Terminal() bool {
	return d.SupplyOrderID != nil
}
