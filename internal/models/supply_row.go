package models

// Типы строк таблицы поставок. Хранятся внутри SupplySnapshot.Data как JSON,
// поэтому это обычные структуры без GORM-тегов.

// ClusterSupplyEntry: ячейка "товар × кластер". Единственное редактируемое
// пользователем поле — ToSupply.
type ClusterSupplyEntry struct {
	ClusterID              int64   `json:"cluster_id"`
	ClusterName            string  `json:"cluster_name"`
	MarketplaceStocksCount int     `json:"marketplace_stocks_count"` // остаток на складах маркетплейса в кластере
	OrdersCount            int     `json:"orders_count"`             // заказы за период (сигнал спроса)
	AvgOrdersLeverage      float64 `json:"avg_orders_leverage"`
	ToSupply               int     `json:"to_supply"` // рекомендованное/отредактированное количество к поставке
	AvailableQuantity      *int    `json:"available_quantity"`  // лимит приёмки склада, nil = без ограничения
	RestrictedQuantity     *int    `json:"restricted_quantity"` // nil = без ограничения
	IsNeighborCluster      bool    `json:"is_neighbor_cluster"` // соседний кластер (переток остатков)
	WarehouseAvailability  string  `json:"warehouse_availability,omitempty"`
}

// SupplyTotals: агрегаты строки по всем кластерам. Кроме ToSupply все значения
// считает сервер рекомендаций, на клиентской стороне они не пересчитываются.
type SupplyTotals struct {
	MarketplaceStocksCount int `json:"marketplace_stocks_count"`
	OrdersCount            int `json:"orders_count"`
	VendorStocksCount      int `json:"vendor_stocks_count"`
	ToSupply               int `json:"to_supply"`
	Deficit                int `json:"deficit"`
}

// ProductSupplyRow: строка таблицы поставок — один товар со всеми кластерами.
// OfferID — первичный ключ строки внутри снапшота.
type ProductSupplyRow struct {
	OfferID           string               `json:"offer_id"`
	SKU               int64                `json:"sku"`
	Name              string               `json:"name"`
	BoxCount          int                  `json:"box_count"` // кратность короба; 0 = не настроена
	VendorStocksCount int                  `json:"vendor_stocks_count"`
	Clusters          []ClusterSupplyEntry `json:"clusters"`
	Totals            SupplyTotals         `json:"totals"`
}

// WarehouseRef: склад (идентификатор + адрес) — используется и для склада
// отгрузки, и для склада хранения.
type WarehouseRef struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type WarehouseState string

const (
	WarehouseFullAvailable    WarehouseState = "FULL_AVAILABLE"
	WarehousePartialAvailable WarehouseState = "PARTIAL_AVAILABLE"
	WarehouseNotAvailable     WarehouseState = "NOT_AVAILABLE"
	WarehouseUnspecified      WarehouseState = "UNSPECIFIED"
)

// WarehouseCandidateProduct: сколько склад готов принять по товару.
// Quantity != ExpectedQuantity означает частичную приёмку — оператор должен
// увидеть это до подтверждения заказа.
type WarehouseCandidateProduct struct {
	OfferID          string `json:"offer_id"`
	Quantity         int    `json:"quantity"`          // сколько склад готов принять
	ExpectedQuantity int    `json:"expected_quantity"` // сколько запрошено
	ProductName      string `json:"product_name"`
}

// WarehouseCandidate: склад хранения — кандидат для поставки черновика
type WarehouseCandidate struct {
	StorageWarehouse WarehouseRef                `json:"storage_warehouse"`
	State            WarehouseState              `json:"state"`
	Products         []WarehouseCandidateProduct `json:"products"`
}

// Timeslot: окно приёмки на складе отгрузки (локальное время склада)
type Timeslot struct {
	From string `json:"from"`
	To   string `json:"to"`
}
