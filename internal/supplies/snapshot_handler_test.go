package supplies

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/engine"
	"supplycrm-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

func snapshotApp() *fiber.App {
	app := fiber.New()
	app.Post("/api/supplies/connection/:id/snapshot/create", CreateSnapshotHandler())
	app.Get("/api/supplies/snapshot/:id", GetSnapshotHandler())
	app.Get("/api/supplies/snapshot/:id/grid", GridHandler())
	app.Patch("/api/supplies/snapshot/:id/cell", EditCellHandler())
	app.Post("/api/supplies/snapshot/:id/flush", FlushSessionHandler())
	app.Get("/api/supplies/snapshot/:id/progress", ProgressStreamHandler())
	return app
}

// Полный жизненный цикл: создание снапшота → расчёт с потоком прогресса →
// таблица → правка ячейки → сохранение.
func TestSnapshotLifecycle(t *testing.T) {
	setupTestDB(t)

	resultRows := []models.ProductSupplyRow{
		{
			OfferID:  "SKU-1",
			SKU:      111,
			Name:     "Товар 1",
			BoxCount: 4,
			Clusters: []models.ClusterSupplyEntry{
				{ClusterID: 10, ClusterName: "Москва", ToSupply: 8},
			},
			Totals: models.SupplyTotals{ToSupply: 8},
		},
		{
			OfferID:  "SKU-2",
			SKU:      222,
			Name:     "Товар 2",
			BoxCount: 2,
			Clusters: []models.ClusterSupplyEntry{
				{ClusterID: 10, ClusterName: "Москва", ToSupply: 6},
				{ClusterID: 30, ClusterName: "Урал", ToSupply: 2},
			},
			Totals: models.SupplyTotals{ToSupply: 8},
		},
	}

	const taskID = "task-lifecycle-1"
	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks":
			if r.Header.Get("Authorization") != "Bearer test-token" {
				t.Errorf("задача поставлена без авторизации")
			}
			json.NewEncoder(w).Encode(map[string]string{"task_id": taskID})
		case r.URL.Path == "/v1/tasks/"+taskID+"/progress":
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			fmt.Fprint(w, "event: progress\ndata: {\"status\":\"running\",\"stage\":\"calc\",\"progress\":50}\n\n")
			flusher.Flush()
			fmt.Fprint(w, "event: completed\ndata: {\"status\":\"completed\",\"progress\":100}\n\n")
			flusher.Flush()
		case r.URL.Path == "/v1/tasks/"+taskID+"/result":
			json.NewEncoder(w).Encode(map[string]any{"data": resultRows})
		default:
			t.Errorf("неожиданный запрос к сервису рекомендаций: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer engineSrv.Close()
	engineClient = engine.NewClient(engineSrv.URL, "test-token")

	snapSeed := seedSnapshot(t, models.APIVersionV2)
	app := snapshotApp()

	// Создание снапшота: multipart с конфигурацией
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("config", `{"strategy":"average_sales","neighbor_supply":false,"drop_off_warehouse":{"id":777,"name":"Хоругвино"}}`)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/supplies/connection/%d/snapshot/create", snapSeed.ConnectionID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatalf("создание снапшота: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("создание снапшота: ожидался 201, получен %d", resp.StatusCode)
	}
	var created struct {
		SnapshotID uint   `json:"snapshot_id"`
		TaskID     string `json:"task_id"`
	}
	decodeBody(t, resp, &created)
	if created.TaskID != taskID {
		t.Fatalf("ожидался task_id %s, получен %s", taskID, created.TaskID)
	}
	t.Cleanup(func() { sessions.Drop(created.SnapshotID) })

	// Ретранслятор сохраняет результат расчёта асинхронно
	deadline := time.Now().Add(5 * time.Second)
	for {
		var snap models.SupplySnapshot
		if err := database.DB.First(&snap, created.SnapshotID).Error; err != nil {
			t.Fatalf("снапшот пропал: %v", err)
		}
		if len(snap.Data) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("результат расчёта не сохранился")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Терминальное событие доступно переоткрытой вкладке
	req = httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/supplies/snapshot/%d/progress?task_id=%s", created.SnapshotID, taskID), nil)
	resp, err = app.Test(req, 10000)
	if err != nil {
		t.Fatalf("поток прогресса: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "event: completed") {
		t.Fatalf("ожидалось терминальное событие в потоке, получено: %q", body)
	}

	// Таблица: колонки — объединение кластеров по всем строкам
	req = httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/supplies/snapshot/%d/grid", created.SnapshotID), nil)
	resp, err = app.Test(req, 10000)
	if err != nil {
		t.Fatalf("таблица: %v", err)
	}
	var grid GridResponse
	decodeBody(t, resp, &grid)
	names := make([]string, 0, len(grid.Columns))
	for _, col := range grid.Columns {
		names = append(names, col.Name)
	}
	if len(names) != 2 || names[0] != "Москва" || names[1] != "Урал" {
		t.Fatalf("ожидались колонки [Москва Урал], получено %v", names)
	}

	// Правка без обязательных полей отклоняется
	badReq := httptest.NewRequest(http.MethodPatch,
		fmt.Sprintf("/api/supplies/snapshot/%d/cell", created.SnapshotID),
		strings.NewReader(`{}`))
	badReq.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(badReq, 10000)
	if err != nil {
		t.Fatalf("правка без полей: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("правка без полей: ожидался 400, получен %d", resp.StatusCode)
	}

	editReq := httptest.NewRequest(http.MethodPatch,
		fmt.Sprintf("/api/supplies/snapshot/%d/cell", created.SnapshotID),
		strings.NewReader(`{"offer_id":"SKU-1","cluster_name":"Москва","to_supply":12}`))
	editReq.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(editReq, 10000)
	if err != nil {
		t.Fatalf("правка ячейки: %v", err)
	}
	var editResp struct {
		HasInvalidValues bool `json:"has_invalid_values"`
		CellValid        bool `json:"cell_valid"`
	}
	decodeBody(t, resp, &editResp)
	if !editResp.CellValid || editResp.HasInvalidValues {
		t.Fatalf("12 кратно коробу 4, правка должна быть валидной: %+v", editResp)
	}

	// Немедленное сохранение и проверка базы
	resp = postJSON(t, app, fmt.Sprintf("/api/supplies/snapshot/%d/flush", created.SnapshotID), fiber.Map{})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("сохранение: ожидался 200, получен %d", resp.StatusCode)
	}
	resp.Body.Close()

	var saved models.SupplySnapshot
	if err := database.DB.First(&saved, created.SnapshotID).Error; err != nil {
		t.Fatalf("снапшот пропал после сохранения: %v", err)
	}
	var savedRows []models.ProductSupplyRow
	if err := json.Unmarshal(saved.Data, &savedRows); err != nil {
		t.Fatalf("повреждены сохранённые данные: %v", err)
	}
	if savedRows[0].Clusters[0].ToSupply != 12 || savedRows[0].Totals.ToSupply != 12 {
		t.Fatalf("правка не дошла до базы: %+v", savedRows[0])
	}
}

// Сбой постановки задачи: снапшот не остаётся в базе
func TestCreateSnapshotEngineDown(t *testing.T) {
	setupTestDB(t)

	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer engineSrv.Close()
	engineClient = engine.NewClient(engineSrv.URL, "test-token")

	snapSeed := seedSnapshot(t, models.APIVersionV2)
	app := snapshotApp()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("config", `{"strategy":"average_sales","drop_off_warehouse":{"id":777,"name":"Хоругвино"}}`)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/supplies/connection/%d/snapshot/create", snapSeed.ConnectionID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatalf("создание снапшота: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("ожидался 502, получен %d", resp.StatusCode)
	}

	var count int64
	database.DB.Model(&models.SupplySnapshot{}).Where("id <> ?", snapSeed.ID).Count(&count)
	if count != 0 {
		t.Fatalf("снапшот без задачи расчёта должен удаляться, в базе %d лишних", count)
	}
}

// Конфигурация без склада отгрузки отклоняется до обращения к движку
func TestCreateSnapshotRequiresDropOff(t *testing.T) {
	setupTestDB(t)

	var engineCalls int
	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		engineCalls++
	}))
	defer engineSrv.Close()
	engineClient = engine.NewClient(engineSrv.URL, "test-token")

	snapSeed := seedSnapshot(t, models.APIVersionV2)
	app := snapshotApp()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("config", `{"strategy":"average_sales"}`)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/supplies/connection/%d/snapshot/create", snapSeed.ConnectionID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatalf("создание снапшота: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("ожидался 400, получен %d", resp.StatusCode)
	}
	if engineCalls != 0 {
		t.Fatalf("движок не должен вызываться при невалидной конфигурации")
	}
}

// Правка в окне дебаунса перед завершением пересчёта: закрытая сессия не
// должна перезаписать свежий расчёт устаревшей таблицей
func TestRefreshedDataSurvivesPendingEdit(t *testing.T) {
	setupTestDB(t)

	snap := seedSnapshot(t, models.APIVersionV2)
	app := snapshotApp()

	// Правка через API взводит отложенное сохранение старой таблицы
	editReq := httptest.NewRequest(http.MethodPatch,
		fmt.Sprintf("/api/supplies/snapshot/%d/cell", snap.ID),
		strings.NewReader(`{"offer_id":"SKU-1","cluster_name":"Москва","to_supply":12}`))
	editReq.Header.Set("Content-Type", "application/json")
	if _, err := app.Test(editReq, 10000); err != nil {
		t.Fatalf("правка ячейки: %v", err)
	}

	// Пересчёт завершается: свежие строки в базе, сессия закрывается —
	// ровно так делает ретранслятор прогресса при событии completed
	refreshed := []models.ProductSupplyRow{
		{
			OfferID:  "SKU-9",
			SKU:      999,
			Name:     "Товар 9",
			BoxCount: 3,
			Clusters: []models.ClusterSupplyEntry{
				{ClusterID: 10, ClusterName: "Москва", ToSupply: 3},
			},
			Totals: models.SupplyTotals{ToSupply: 3},
		},
	}
	data, err := encodeRows(refreshed)
	if err != nil {
		t.Fatalf("encodeRows: %v", err)
	}
	if err := database.DB.Model(&models.SupplySnapshot{}).
		Where("id = ?", snap.ID).
		Update("data", datatypes.JSON(data)).Error; err != nil {
		t.Fatalf("не удалось записать результат пересчёта: %v", err)
	}
	sessions.Drop(snap.ID)

	// Дожидаемся окна, в котором сработал бы взведённый таймер
	time.Sleep(1200 * time.Millisecond)

	var saved models.SupplySnapshot
	if err := database.DB.First(&saved, snap.ID).Error; err != nil {
		t.Fatalf("снапшот пропал: %v", err)
	}
	var rows []models.ProductSupplyRow
	if err := json.Unmarshal(saved.Data, &rows); err != nil {
		t.Fatalf("повреждены данные: %v", err)
	}
	if len(rows) != 1 || rows[0].OfferID != "SKU-9" {
		t.Fatalf("результат пересчёта потерян: закрытая сессия перезаписала данные, строк %d", len(rows))
	}
}

// Снапшот и таблица не расходятся в окне дебаунса: GET снапшота отдаёт
// несохранённые правки открытой сессии
func TestGetSnapshotReflectsUnsavedEdits(t *testing.T) {
	setupTestDB(t)

	snap := seedSnapshot(t, models.APIVersionV2)
	app := snapshotApp()

	editReq := httptest.NewRequest(http.MethodPatch,
		fmt.Sprintf("/api/supplies/snapshot/%d/cell", snap.ID),
		strings.NewReader(`{"offer_id":"SKU-1","cluster_name":"Москва","to_supply":12}`))
	editReq.Header.Set("Content-Type", "application/json")
	if _, err := app.Test(editReq, 10000); err != nil {
		t.Fatalf("правка ячейки: %v", err)
	}

	// Сохранение ещё не уехало (дебаунс), но снапшот уже отражает правку
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/supplies/snapshot/%d", snap.ID), nil)
	resp, err := app.Test(req, 10000)
	if err != nil {
		t.Fatalf("получение снапшота: %v", err)
	}
	var fetched SnapshotResponse
	decodeBody(t, resp, &fetched)

	found := false
	for _, row := range fetched.Data {
		if row.OfferID != "SKU-1" {
			continue
		}
		found = true
		if row.Clusters[0].ToSupply != 12 || row.Totals.ToSupply != 12 {
			t.Fatalf("снапшот должен отдавать правки сессии, получено %+v", row)
		}
	}
	if !found {
		t.Fatalf("строка SKU-1 не найдена в ответе")
	}
}
