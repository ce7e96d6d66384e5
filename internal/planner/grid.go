package planner

import (
	"fmt"
	"strings"

	"supplycrm-backend/internal/models"
)

// Пакет planner — проекция данных снапшота в табличное представление и
// применение правок оператора. Чистая логика без базы и сети.

// ColumnOptions: параметры построения колонок таблицы
type ColumnOptions struct {
	NeighborSupply bool   // флаг поставок в соседние кластеры из конфигурации снапшота
	NameFilter     string // фильтр по подстроке имени кластера
}

// ClusterColumn: группа колонок одного кластера
type ClusterColumn struct {
	ClusterID  int64  `json:"cluster_id"`
	Name       string `json:"name"`
	IsNeighbor bool   `json:"is_neighbor"`
}

// Columns строит список кластерных колонок. Имена кластеров объединяются по
// ВСЕМ строкам: соседние кластеры могут встречаться только в части строк, и
// чтение колонок из первой строки молча теряет их. Колонка "Итого"
// показывается только без фильтра по имени.
func Columns(rows []models.ProductSupplyRow, opts ColumnOptions) (cols []ClusterColumn, showTotals bool) {
	seen := make(map[string]int) // имя кластера -> индекс в cols
	for _, row := range rows {
		for _, cl := range row.Clusters {
			if idx, ok := seen[cl.ClusterName]; ok {
				// Кластер считаем соседним, только если он помечен соседним
				// во всех строках, где встречается
				if !cl.IsNeighborCluster {
					cols[idx].IsNeighbor = false
				}
				continue
			}
			seen[cl.ClusterName] = len(cols)
			cols = append(cols, ClusterColumn{
				ClusterID:  cl.ClusterID,
				Name:       cl.ClusterName,
				IsNeighbor: cl.IsNeighborCluster,
			})
		}
	}

	// Подавление пустых соседних кластеров: при выключенном флаге соседних
	// поставок колонка с нулевой суммой to_supply скрывается из представления
	// (в данных она остаётся)
	if !opts.NeighborSupply {
		kept := cols[:0]
		for _, col := range cols {
			if col.IsNeighbor && ClusterToSupplySum(rows, col.Name) == 0 {
				continue
			}
			kept = append(kept, col)
		}
		cols = kept
	}

	if f := strings.TrimSpace(opts.NameFilter); f != "" {
		needle := strings.ToLower(f)
		kept := cols[:0]
		for _, col := range cols {
			if strings.Contains(strings.ToLower(col.Name), needle) {
				kept = append(kept, col)
			}
		}
		cols = kept
		return cols, false
	}

	return cols, true
}

// ClusterToSupplySum: сумма to_supply по всем строкам для кластера
func ClusterToSupplySum(rows []models.ProductSupplyRow, clusterName string) int {
	sum := 0
	for _, row := range rows {
		for _, cl := range row.Clusters {
			if cl.ClusterName == clusterName {
				sum += cl.ToSupply
			}
		}
	}
	return sum
}

// CellValid: правило кратности короба. Ноль к поставке валиден всегда;
// ненастроенная кратность (box_count <= 0) делает невалидным только ненулевое
// количество.
func CellValid(boxCount, toSupply int) bool {
	if toSupply == 0 {
		return true
	}
	if toSupply < 0 || boxCount <= 0 {
		return false
	}
	return toSupply%boxCount == 0
}

// RowValid: все ячейки строки валидны
func RowValid(row models.ProductSupplyRow) bool {
	for _, cl := range row.Clusters {
		if !CellValid(row.BoxCount, cl.ToSupply) {
			return false
		}
	}
	return true
}

// HasInvalidValues: табличный признак, блокирующий сохранение
func HasInvalidValues(rows []models.ProductSupplyRow) bool {
	for _, row := range rows {
		if !RowValid(row) {
			return true
		}
	}
	return false
}

// ApplyEdit применяет правку ячейки. Строка ищется по offer_id (первичный
// ключ строки — порядок массива под фильтрами меняется), после правки
// totals.to_supply пересчитывается как сумма по кластерам. Остальные агрегаты
// приходят с сервера рекомендаций и здесь не трогаются.
func ApplyEdit(rows []models.ProductSupplyRow, offerID, clusterName string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("количество к поставке не может быть отрицательным")
	}

	for i := range rows {
		if rows[i].OfferID != offerID {
			continue
		}
		for j := range rows[i].Clusters {
			if rows[i].Clusters[j].ClusterName != clusterName {
				continue
			}
			rows[i].Clusters[j].ToSupply = qty

			total := 0
			for _, cl := range rows[i].Clusters {
				total += cl.ToSupply
			}
			rows[i].Totals.ToSupply = total
			return nil
		}
		return fmt.Errorf("кластер %q не найден у товара %q", clusterName, offerID)
	}
	return fmt.Errorf("товар %q не найден в снапшоте", offerID)
}

// DraftItem: позиция черновика поставки
type DraftItem struct {
	OfferID  string `json:"offer_id"`
	SKU      int64  `json:"sku"`
	Quantity int    `json:"quantity"`
}

// DraftItems собирает позиции черновика для кластера: берутся строки с
// положительным to_supply в этом кластере. Строки с ненастроенной кратностью
// короба молча исключаются — сохранение их и так блокирует, но шаг черновика
// защищается независимо.
func DraftItems(rows []models.ProductSupplyRow, clusterName string) []DraftItem {
	var items []DraftItem
	for _, row := range rows {
		if row.BoxCount <= 0 {
			continue
		}
		for _, cl := range row.Clusters {
			if cl.ClusterName == clusterName && cl.ToSupply > 0 {
				items = append(items, DraftItem{
					OfferID:  row.OfferID,
					SKU:      row.SKU,
					Quantity: cl.ToSupply,
				})
				break
			}
		}
	}
	return items
}
