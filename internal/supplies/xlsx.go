package supplies

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Разбор файла переопределений для стратегии manual_xlsx: первая колонка —
// артикул (offer_id), вторая — количество к поставке.

func parseOverridesXLSX(r io.Reader) (map[string]int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать xlsx-файл: %w", err)
	}
	defer f.Close()

	sheetList := f.GetSheetList()
	if len(sheetList) == 0 {
		return nil, fmt.Errorf("в файле нет ни одного листа")
	}

	rows, err := f.GetRows(sheetList[0])
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать лист: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("файл пуст")
	}

	// Первая строка может быть заголовком
	startIndex := 0
	if len(rows[0]) > 0 {
		firstCell := strings.ToUpper(strings.TrimSpace(rows[0][0]))
		if strings.Contains(firstCell, "АРТИКУЛ") || strings.Contains(firstCell, "OFFER") {
			startIndex = 1
		}
	}

	overrides := make(map[string]int)
	for i := startIndex; i < len(rows); i++ {
		row := rows[i]
		if len(row) < 2 {
			continue
		}

		offerID := strings.TrimSpace(row[0])
		if offerID == "" {
			continue
		}

		qty, convErr := strconv.Atoi(strings.TrimSpace(row[1]))
		if convErr != nil || qty < 0 {
			return nil, fmt.Errorf("строка %d: некорректное количество %q для артикула %s", i+1, row[1], offerID)
		}

		overrides[offerID] = qty
	}

	if len(overrides) == 0 {
		return nil, fmt.Errorf("в файле не найдено ни одной позиции")
	}
	return overrides, nil
}
