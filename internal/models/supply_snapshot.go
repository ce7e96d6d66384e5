package models

import (
	"time"

	"gorm.io/datatypes"
)

// CalcStrategy: стратегия расчёта рекомендаций
type CalcStrategy string

const (
	StrategyAverageSales             CalcStrategy = "average_sales"
	StrategyAverageSalesLocalization CalcStrategy = "average_sales_localization"
	StrategyDynamicPercentages       CalcStrategy = "dynamic_percentages"
	StrategyFixedPercentages         CalcStrategy = "fixed_percentages"
	StrategyManualXLSX               CalcStrategy = "manual_xlsx"
)

// SupplySnapshot: версионированная таблица рекомендаций по поставкам для
// подключения. Data — массив ProductSupplyRow в JSON; между пересчётами
// структура неизменна, редактируются только значения to_supply.
type SupplySnapshot struct {
	ID           uint `gorm:"primaryKey"`
	ConnectionID uint `gorm:"index;not null"`
	Connection   Connection

	// Конфигурация расчёта (фиксируется при создании, меняется через refresh)
	Strategy           CalcStrategy   `gorm:"size:40;not null"`
	ClusterIDs         datatypes.JSON // фильтр кластеров, null = все
	OfferIDs           datatypes.JSON // фильтр товаров, null = все
	NeighborSupply     bool           `gorm:"default:false"` // поставки в соседние кластеры
	DropOffWarehouseID int64          `gorm:"not null"`
	DropOffWarehouse   string         `gorm:"size:255;not null"`
	DropOffAddress     string         `gorm:"size:255"`

	Data datatypes.JSON // []ProductSupplyRow

	CreatedAt time.Time
	UpdatedAt time.Time // двигается при каждом успешном пересчёте и сохранении

	Drafts []SupplyDraft `gorm:"foreignKey:SnapshotID;constraint:OnDelete:CASCADE"`
}

// SnapshotConfig: конфигурация расчёта в том виде, в котором она приходит от
// клиента (multipart-поле config при создании, тело запроса при refresh).
type SnapshotConfig struct {
	Strategy         CalcStrategy  `json:"strategy"`
	ClusterIDs       []int64       `json:"cluster_ids"` // пусто = все кластеры
	OfferIDs         []string      `json:"offer_ids"`   // пусто = все товары
	NeighborSupply   bool          `json:"neighbor_supply"`
	DropOffWarehouse *WarehouseRef `json:"drop_off_warehouse"` // обязателен
}
