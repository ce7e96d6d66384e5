package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"supplycrm-backend/internal/models"

	"github.com/google/uuid"
)

// Клиент внешнего сервиса рекомендаций: постановка задачи расчёта, поток
// прогресса и выборка результата.

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		// Для обычных запросов таймаут ставится на клиенте; поток прогресса
		// живёт дольше и управляется контекстом
		httpc: &http.Client{Timeout: 60 * time.Second},
	}
}

// TaskRequest: задача расчёта снапшота
type TaskRequest struct {
	SnapshotID   uint                  `json:"snapshot_id"`
	ConnectionID uint                  `json:"connection_id"`
	Config       models.SnapshotConfig `json:"config"`
	// Переопределения количеств из загруженного xlsx (offer_id -> to_supply),
	// только для стратегии manual_xlsx
	Overrides map[string]int `json:"overrides,omitempty"`
}

// ProgressData: полезная нагрузка события прогресса
type ProgressData struct {
	Status   string `json:"status"` // pending|running|completed|failed|error
	Stage    string `json:"stage"`
	Progress int    `json:"progress"` // 0-100
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ProgressEvent: именованное событие потока прогресса
type ProgressEvent struct {
	Name string // progress|completed|failed|error
	Data ProgressData
}

func (e ProgressEvent) Terminal() bool {
	return e.Name == "completed" || e.Name == "failed" || e.Name == "error"
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// SubmitTask ставит задачу расчёта и возвращает её идентификатор
func (c *Client) SubmitTask(ctx context.Context, task TaskRequest) (string, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	c.auth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("сервис рекомендаций недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("сервис рекомендаций вернул статус %d", resp.StatusCode)
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("не удалось разобрать ответ сервиса рекомендаций: %w", err)
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("сервис рекомендаций не вернул task_id")
	}
	return out.TaskID, nil
}

// FetchResult забирает рассчитанные строки завершённой задачи
func (c *Client) FetchResult(ctx context.Context, taskID string) ([]models.ProductSupplyRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+taskID+"/result", nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("сервис рекомендаций недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("сервис рекомендаций вернул статус %d", resp.StatusCode)
	}

	var out struct {
		Data []models.ProductSupplyRow `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("не удалось разобрать результат расчёта: %w", err)
	}
	return out.Data, nil
}

// StreamProgress читает поток прогресса задачи и отдаёт события в fn до
// терминального события, конца потока или отмены контекста. Отмена контекста —
// штатное завершение (возвращается nil): намеренное закрытие не должно
// выглядеть для вызывающего как сетевая ошибка.
func (c *Client) StreamProgress(ctx context.Context, taskID string, fn func(ProgressEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+taskID+"/progress", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.auth(req)

	// Без общего таймаута: поток живёт до терминального события
	streamClient := &http.Client{Transport: c.httpc.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("не удалось открыть поток прогресса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("поток прогресса вернул статус %d", resp.StatusCode)
	}

	err = readEvents(resp.Body, func(raw rawEvent) {
		var data ProgressData
		if jsonErr := json.Unmarshal([]byte(raw.Data), &data); jsonErr != nil {
			return
		}
		fn(ProgressEvent{Name: raw.Name, Data: data})
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("поток прогресса оборвался: %w", err)
		}
		return err
	}
	return nil
}
