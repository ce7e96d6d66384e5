package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// Протокол v2: маркетплейс сам опрашивает внутренний статус и возвращает
// терминальный результат одним ответом.
func (c *Client) createSupplyV2(ctx context.Context, draftID int64, req createSupplyRequest) (*SupplyResult, error) {
	var out SupplyResult
	path := "/v2/supply-draft/" + strconv.FormatInt(draftID, 10) + "/create-supply"
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	if out.Status != "SUCCESS" && out.Status != "FAILED" {
		return nil, fmt.Errorf("маркетплейс вернул неожиданный статус %q", out.Status)
	}
	return &out, nil
}
