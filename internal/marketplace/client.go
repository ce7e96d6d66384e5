package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"supplycrm-backend/internal/models"
)

// Клиент seller-API маркетплейса: черновики поставок, таймслоты и создание
// заказов. Подключение определяет поколение протокола создания заказа:
// v1 — асинхронный с клиентским опросом статуса, v2 — синхронный, сервер сам
// дожидается терминального результата.

// ErrTimeout: исчерпан бюджет опроса статуса (v1). Отличается от обычной
// ошибки: заказ может довершиться на стороне маркетплейса.
var ErrTimeout = errors.New("превышено время ожидания")

type Client struct {
	baseURL string
	version models.APIVersion

	clientID string
	apiKey   string

	httpc *http.Client

	// Параметры опроса v1; в тестах интервал уменьшается
	pollInterval time.Duration
	pollAttempts int
}

func NewClient(baseURL string, conn *models.Connection) *Client {
	return &Client{
		baseURL:      baseURL,
		version:      conn.APIVersion,
		clientID:     conn.ClientID,
		apiKey:       conn.APIKey,
		httpc:        &http.Client{Timeout: 60 * time.Second},
		pollInterval: 5 * time.Second,
		pollAttempts: 60,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("маркетплейс недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Маркетплейс отдаёт детали в {"message": "..."}
		var apiErr struct {
			Message string `json:"message"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			return fmt.Errorf("маркетплейс: %s", apiErr.Message)
		}
		return fmt.Errorf("маркетплейс вернул статус %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("не удалось разобрать ответ маркетплейса: %w", err)
	}
	return nil
}

// CreateDraftRequest: заявка на черновик поставки
type CreateDraftRequest struct {
	ConnectionID     uint                `json:"connection_id"`
	SnapshotID       uint                `json:"snapshot_id"`
	DropOffWarehouse models.WarehouseRef `json:"drop_off_warehouse"`
	ClusterName      string              `json:"cluster_name"`
	Items            []DraftItemRequest  `json:"items"`
	DeletionSKUMode  string              `json:"deletion_sku_mode"`
}

type DraftItemRequest struct {
	OfferID  string `json:"offer_id"`
	SKU      int64  `json:"sku"`
	Quantity int    `json:"quantity"`
}

// DraftResponse: черновик в представлении маркетплейса
type DraftResponse struct {
	DraftID           *int64                      `json:"draft_id"`
	Status            string                      `json:"status"`
	Errors            []string                    `json:"errors"`
	StorageWarehouses []models.WarehouseCandidate `json:"storage_warehouses"`
}

// CreateDraft отправляет черновик. Ответ без draft_id — нефатальный сбой:
// ошибка отдаётся наверх, навигация к черновику не происходит.
func (c *Client) CreateDraft(ctx context.Context, req CreateDraftRequest) (*DraftResponse, error) {
	var out DraftResponse
	if err := c.do(ctx, http.MethodPost, "/v2/supply-draft", req, &out); err != nil {
		return nil, err
	}
	if out.DraftID == nil {
		if len(out.Errors) > 0 {
			return nil, fmt.Errorf("маркетплейс не принял черновик: %s", out.Errors[0])
		}
		return nil, fmt.Errorf("маркетплейс не вернул идентификатор черновика")
	}
	return &out, nil
}

// GetDraft обновляет черновик: статус и классификацию доступности складов
func (c *Client) GetDraft(ctx context.Context, draftID int64) (*DraftResponse, error) {
	var out DraftResponse
	if err := c.do(ctx, http.MethodGet, "/v2/supply-draft/"+strconv.FormatInt(draftID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClusterWarehousePair: ключ выборки таймслотов и создания заказа
type ClusterWarehousePair struct {
	MacrolocalClusterID int64 `json:"macrolocal_cluster_id"`
	StorageWarehouseID  int64 `json:"storage_warehouse_id"`
}

// DayTimeslots: таймслоты одного календарного дня (локальное время склада).
// День без слотов тоже присутствует в ответе — календарь показывает его как
// недоступный.
type DayTimeslots struct {
	Date      string            `json:"date"` // YYYY-MM-DD
	Timeslots []models.Timeslot `json:"timeslots"`
}

type timeslotRequest struct {
	Pairs    []ClusterWarehousePair `json:"selected_cluster_warehouses"`
	DateFrom string                 `json:"date_from"`
	DateTo   string                 `json:"date_to"`
}

// Горизонт выборки таймслотов от сегодняшнего дня
const timeslotHorizonDays = 28

// Timeslots запрашивает доступные окна приёмки на горизонте 28 дней
func (c *Client) Timeslots(ctx context.Context, draftID int64, pairs []ClusterWarehousePair) ([]DayTimeslots, error) {
	now := time.Now()
	req := timeslotRequest{
		Pairs:    pairs,
		DateFrom: now.Format("2006-01-02"),
		DateTo:   now.AddDate(0, 0, timeslotHorizonDays).Format("2006-01-02"),
	}

	var out struct {
		Days []DayTimeslots `json:"days"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/supply-draft/"+strconv.FormatInt(draftID, 10)+"/timeslots", req, &out); err != nil {
		return nil, err
	}
	return out.Days, nil
}

// SupplyResult: терминальный результат создания заказа
type SupplyResult struct {
	Status       string   `json:"status"` // SUCCESS | FAILED
	OrderID      *int64   `json:"order_id"`
	ErrorReasons []string `json:"error_reasons"`
}

func (r *SupplyResult) Success() bool {
	return r.Status == "SUCCESS"
}

type createSupplyRequest struct {
	Pairs    []ClusterWarehousePair `json:"selected_cluster_warehouses"`
	Timeslot models.Timeslot        `json:"timeslot"`
}

// CreateSupply создаёт заказ на поставку из черновика и возвращает
// терминальный результат. Ветка протокола выбирается по версии подключения.
func (c *Client) CreateSupply(ctx context.Context, draftID int64, pairs []ClusterWarehousePair, slot models.Timeslot) (*SupplyResult, error) {
	req := createSupplyRequest{Pairs: pairs, Timeslot: slot}
	if c.version == models.APIVersionV1 {
		return c.createSupplyV1(ctx, draftID, req)
	}
	return c.createSupplyV2(ctx, draftID, req)
}

// SearchWarehouses ищет склады отгрузки по подстроке названия
func (c *Client) SearchWarehouses(ctx context.Context, search string) ([]models.WarehouseRef, error) {
	var out struct {
		Warehouses []models.WarehouseRef `json:"warehouses"`
	}
	path := "/v1/warehouses?search=" + url.QueryEscape(search)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Warehouses, nil
}
