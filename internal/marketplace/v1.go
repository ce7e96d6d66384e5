package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Протокол v1: создание заказа асинхронное, клиент опрашивает отдельный
// статусный эндпоинт с ограниченным числом попыток (60 × 5 сек ≈ 5 минут).

type v1OperationResponse struct {
	OperationID string `json:"operation_id"`
}

type v1StatusResponse struct {
	Status       string   `json:"status"` // PENDING | IN_PROGRESS | SUCCESS | FAILED
	OrderID      *int64   `json:"order_id"`
	ErrorReasons []string `json:"error_reasons"`
}

func (c *Client) createSupplyV1(ctx context.Context, draftID int64, req createSupplyRequest) (*SupplyResult, error) {
	var op v1OperationResponse
	path := "/v1/supply-draft/" + strconv.FormatInt(draftID, 10) + "/create-supply"
	if err := c.do(ctx, http.MethodPost, path, req, &op); err != nil {
		return nil, err
	}
	if op.OperationID == "" {
		return nil, fmt.Errorf("маркетплейс не вернул operation_id")
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		var st v1StatusResponse
		if err := c.do(ctx, http.MethodGet, "/v1/supply-status/"+op.OperationID, nil, &st); err != nil {
			// Единичный сбой опроса не терминален, попытка тратится
			continue
		}

		switch st.Status {
		case "SUCCESS", "FAILED":
			return &SupplyResult{
				Status:       st.Status,
				OrderID:      st.OrderID,
				ErrorReasons: st.ErrorReasons,
			}, nil
		}
	}

	// Бюджет попыток исчерпан: заказ может ещё довершиться на стороне
	// маркетплейса, поэтому таймаут отличим от обычной ошибки
	return nil, ErrTimeout
}
