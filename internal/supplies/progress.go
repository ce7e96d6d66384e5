package supplies

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"supplycrm-backend/internal/database"
	"supplycrm-backend/internal/engine"
	"supplycrm-backend/internal/models"
)

// ProgressHub раздаёт события расчёта снапшотов подписчикам SSE-эндпоинта.
// На каждую задачу заводится одна горутина-ретранслятор, читающая поток
// прогресса сервиса рекомендаций; подписчики получают события через каналы.

type ProgressHub struct {
	mu    sync.Mutex
	tasks map[string]*taskState
}

type taskState struct {
	subs   map[chan engine.ProgressEvent]struct{}
	last   *engine.ProgressEvent // последнее событие для опоздавших подписчиков
	done   bool
	cancel context.CancelFunc
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{tasks: make(map[string]*taskState)}
}

func taskKey(snapshotID uint, taskID string) string {
	return fmt.Sprintf("%d:%s", snapshotID, taskID)
}

// Run запускает ретрансляцию прогресса задачи. На completed результат расчёта
// забирается и сохраняется в снапшот; на failed/error снапшот остаётся в
// последнем успешном состоянии.
func (h *ProgressHub) Run(snapshotID uint, taskID string) {
	key := taskKey(snapshotID, taskID)

	h.mu.Lock()
	if _, exists := h.tasks[key]; exists {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.tasks[key] = &taskState{
		subs:   make(map[chan engine.ProgressEvent]struct{}),
		cancel: cancel,
	}
	h.mu.Unlock()

	go func() {
		err := engineClient.StreamProgress(ctx, taskID, func(ev engine.ProgressEvent) {
			if ev.Name == "completed" {
				if applyErr := h.applyResult(ctx, snapshotID, taskID); applyErr != nil {
					log.Printf("Снапшот %d: не удалось применить результат задачи %s: %v", snapshotID, taskID, applyErr)
					ev = engine.ProgressEvent{
						Name: "error",
						Data: engine.ProgressData{Status: "error", Error: applyErr.Error()},
					}
				}
			}
			h.publish(key, ev)
			if ev.Terminal() {
				cancel()
			}
		})
		if err != nil {
			log.Printf("Снапшот %d: поток прогресса задачи %s оборвался: %v", snapshotID, taskID, err)
			h.publish(key, engine.ProgressEvent{
				Name: "error",
				Data: engine.ProgressData{Status: "error", Error: "Потеряна связь с сервисом рекомендаций"},
			})
		}
		h.finish(key)
	}()
}

func (h *ProgressHub) applyResult(ctx context.Context, snapshotID uint, taskID string) error {
	rows, err := engineClient.FetchResult(ctx, taskID)
	if err != nil {
		return err
	}
	data, err := encodeRows(rows)
	if err != nil {
		return err
	}

	res := database.DB.Model(&models.SupplySnapshot{}).
		Where("id = ?", snapshotID).
		Updates(map[string]interface{}{
			"data":       data,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("не удалось сохранить результат расчёта: %w", res.Error)
	}

	// Открытая сессия редактирования устарела вместе с данными
	sessions.Drop(snapshotID)
	return nil
}

func (h *ProgressHub) publish(key string, ev engine.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.tasks[key]
	if !ok {
		return
	}
	st.last = &ev
	for ch := range st.subs {
		select {
		case ch <- ev:
		default:
			// Медленный подписчик не должен блокировать ретранслятор
		}
	}
}

func (h *ProgressHub) finish(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.tasks[key]
	if !ok {
		return
	}
	st.done = true
	st.cancel()
	for ch := range st.subs {
		close(ch)
	}
	st.subs = make(map[chan engine.ProgressEvent]struct{})

	// Состояние задачи хранится ещё какое-то время, чтобы переоткрытая
	// вкладка увидела терминальное событие
	go func() {
		time.Sleep(5 * time.Minute)
		h.mu.Lock()
		delete(h.tasks, key)
		h.mu.Unlock()
	}()
}

// Subscribe подписывает на события задачи. Возвращает канал, функцию отписки
// и последнее опубликованное событие (если подписчик опоздал). Для
// неизвестной задачи возвращается nil-канал.
func (h *ProgressHub) Subscribe(snapshotID uint, taskID string) (<-chan engine.ProgressEvent, func(), *engine.ProgressEvent) {
	key := taskKey(snapshotID, taskID)

	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.tasks[key]
	if !ok {
		return nil, func() {}, nil
	}

	if st.done {
		return nil, func() {}, st.last
	}

	ch := make(chan engine.ProgressEvent, 16)
	st.subs[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, still := st.subs[ch]; still {
			delete(st.subs, ch)
			close(ch)
		}
	}

	return ch, unsubscribe, st.last
}
