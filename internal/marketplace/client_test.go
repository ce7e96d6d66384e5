package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"supplycrm-backend/internal/models"
)

func testConn(version models.APIVersion) *models.Connection {
	return &models.Connection{
		ClientID:   "client-1",
		APIKey:     "key-1",
		APIVersion: version,
	}
}

func newTestClient(t *testing.T, version models.APIVersion, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, testConn(version))
	c.pollInterval = 5 * time.Millisecond
	return c, srv
}

func TestCreateDraftSendsAuthHeaders(t *testing.T) {
	c, _ := newTestClient(t, models.APIVersionV2, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "client-1" || r.Header.Get("Api-Key") != "key-1" {
			t.Errorf("ожидались заголовки авторизации, получено %v", r.Header)
		}
		var req CreateDraftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("тело запроса: %v", err)
		}
		if req.ClusterName != "Москва" || len(req.Items) != 1 {
			t.Errorf("неожиданное тело: %+v", req)
		}
		fmt.Fprint(w, `{"draft_id":77,"status":"in_progress","storage_warehouses":[]}`)
	})

	out, err := c.CreateDraft(context.Background(), CreateDraftRequest{
		ClusterName: "Москва",
		Items:       []DraftItemRequest{{OfferID: "A", SKU: 1, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if out.DraftID == nil || *out.DraftID != 77 {
		t.Fatalf("draft_id: %+v", out.DraftID)
	}
}

func TestCreateDraftWithoutIDIsError(t *testing.T) {
	c, _ := newTestClient(t, models.APIVersionV2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"failed","errors":["нет остатков"]}`)
	})

	if _, err := c.CreateDraft(context.Background(), CreateDraftRequest{}); err == nil {
		t.Fatal("ответ без draft_id должен быть ошибкой")
	}
}

func TestServerErrorMessageSurfaced(t *testing.T) {
	c, _ := newTestClient(t, models.APIVersionV2, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"черновик истёк"}`)
	})

	_, err := c.GetDraft(context.Background(), 1)
	if err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if got := err.Error(); got != "маркетплейс: черновик истёк" {
		t.Fatalf("текст ошибки сервера должен пробрасываться, получено %q", got)
	}
}

func TestCreateSupplyV2Synchronous(t *testing.T) {
	c, _ := newTestClient(t, models.APIVersionV2, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/supply-draft/5/create-supply" {
			t.Errorf("неожиданный путь %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"status":"SUCCESS","order_id":900}`)
	})

	res, err := c.CreateSupply(context.Background(), 5, []ClusterWarehousePair{{MacrolocalClusterID: 1, StorageWarehouseID: 2}}, models.Timeslot{From: "2026-09-01T10:00:00", To: "2026-09-01T11:00:00"})
	if err != nil {
		t.Fatalf("CreateSupply: %v", err)
	}
	if !res.Success() || res.OrderID == nil || *res.OrderID != 900 {
		t.Fatalf("результат: %+v", res)
	}
}

func TestCreateSupplyV1PollsUntilTerminal(t *testing.T) {
	var polls int32
	c, _ := newTestClient(t, models.APIVersionV1, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/supply-draft/5/create-supply":
			fmt.Fprint(w, `{"operation_id":"op-1"}`)
		case "/v1/supply-status/op-1":
			if atomic.AddInt32(&polls, 1) < 3 {
				fmt.Fprint(w, `{"status":"IN_PROGRESS"}`)
				return
			}
			fmt.Fprint(w, `{"status":"SUCCESS","order_id":901}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	res, err := c.CreateSupply(context.Background(), 5, nil, models.Timeslot{})
	if err != nil {
		t.Fatalf("CreateSupply v1: %v", err)
	}
	if res.OrderID == nil || *res.OrderID != 901 {
		t.Fatalf("результат: %+v", res)
	}
	if got := atomic.LoadInt32(&polls); got != 3 {
		t.Fatalf("опрос должен остановиться на терминальном статусе, попыток: %d", got)
	}
}

func TestCreateSupplyV1TimeoutIsDistinct(t *testing.T) {
	c, _ := newTestClient(t, models.APIVersionV1, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/supply-draft/5/create-supply":
			fmt.Fprint(w, `{"operation_id":"op-1"}`)
		default:
			fmt.Fprint(w, `{"status":"IN_PROGRESS"}`)
		}
	})
	c.pollAttempts = 4

	_, err := c.CreateSupply(context.Background(), 5, nil, models.Timeslot{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ожидался ErrTimeout, получено %v", err)
	}
}

func TestCreateSupplyV1ContextCancel(t *testing.T) {
	c, _ := newTestClient(t, models.APIVersionV1, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/supply-draft/5/create-supply":
			fmt.Fprint(w, `{"operation_id":"op-1"}`)
		default:
			fmt.Fprint(w, `{"status":"IN_PROGRESS"}`)
		}
	})
	c.pollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.CreateSupply(ctx, 5, nil, models.Timeslot{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидалась отмена контекста, получено %v", err)
	}
}

func TestTimeslotsHorizon(t *testing.T) {
	c, _ := newTestClient(t, models.APIVersionV2, func(w http.ResponseWriter, r *http.Request) {
		var req timeslotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("тело запроса: %v", err)
		}
		from, _ := time.Parse("2006-01-02", req.DateFrom)
		to, _ := time.Parse("2006-01-02", req.DateTo)
		if days := int(to.Sub(from).Hours() / 24); days != timeslotHorizonDays {
			t.Errorf("горизонт %d дней, ожидалось %d", days, timeslotHorizonDays)
		}
		if len(req.Pairs) != 1 {
			t.Errorf("ожидалась одна пара кластер-склад")
		}
		fmt.Fprint(w, `{"days":[{"date":"2026-09-01","timeslots":[{"from":"2026-09-01T10:00:00","to":"2026-09-01T11:00:00"}]},{"date":"2026-09-02","timeslots":[]}]}`)
	})

	days, err := c.Timeslots(context.Background(), 5, []ClusterWarehousePair{{MacrolocalClusterID: 1, StorageWarehouseID: 2}})
	if err != nil {
		t.Fatalf("Timeslots: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("ожидалось 2 дня, получено %d", len(days))
	}
	if len(days[1].Timeslots) != 0 {
		t.Fatal("день без слотов должен оставаться в ответе пустым")
	}
}

func TestSearchWarehouses(t *testing.T) {
	c, _ := newTestClient(t, models.APIVersionV2, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") != "хоругвино" {
			t.Errorf("поисковый запрос: %q", r.URL.Query().Get("search"))
		}
		fmt.Fprint(w, `{"warehouses":[{"id":1,"name":"Хоругвино","address":"МО"}]}`)
	})

	list, err := c.SearchWarehouses(context.Background(), "хоругвино")
	if err != nil {
		t.Fatalf("SearchWarehouses: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Хоругвино" {
		t.Fatalf("результат: %+v", list)
	}
}
