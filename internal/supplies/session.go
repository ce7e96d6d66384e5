package supplies

import (
	"errors"
	"sync"
	"time"

	"supplycrm-backend/internal/models"
	"supplycrm-backend/internal/planner"
)

// Сессия редактирования снапшота: правки применяются к копии данных в памяти
// и сохраняются в базу отложенно. Всплеск правок (набор числа в ячейке)
// схлопывается в одно сохранение; на снапшот одновременно выполняется не
// более одного сохранения — второе поверх первого потеряло бы часть правок.

// Пауза после последней правки перед сохранением
const saveDebounce = 700 * time.Millisecond

// ErrInvalidCells: в таблице есть нарушения кратности короба, сохранение
// заблокировано до их исправления
var ErrInvalidCells = errors.New("в таблице есть значения, не кратные коробу")

type SaveFunc func(rows []models.ProductSupplyRow) error

type EditSession struct {
	mu       sync.Mutex
	rows     []models.ProductSupplyRow
	save     SaveFunc
	debounce time.Duration

	timer   *time.Timer
	saving  bool // сохранение в полёте
	dirty   bool // правка пришла во время сохранения
	closed  bool // сессия закрыта, отложенные сохранения не выполняются
	touched time.Time
	lastErr error
}

func NewEditSession(rows []models.ProductSupplyRow, save SaveFunc) *EditSession {
	return &EditSession{rows: rows, save: save, debounce: saveDebounce, touched: time.Now()}
}

// Edit применяет правку ячейки и взводит отложенное сохранение
func (s *EditSession) Edit(offerID, clusterName string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := planner.ApplyEdit(s.rows, offerID, clusterName, qty); err != nil {
		return err
	}
	s.touched = time.Now()
	s.scheduleLocked()
	return nil
}

func (s *EditSession) scheduleLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.trySave)
}

// trySave — срабатывание дебаунса. При сохранении в полёте помечаем сессию
// грязной: завершившееся сохранение само перевзведёт цикл, и финальное
// состояние не потеряется.
func (s *EditSession) trySave() {
	s.mu.Lock()
	if s.closed {
		// Снапшот пересчитан или удалён: данные сессии устарели, сохранение
		// поверх свежего расчёта потеряло бы его
		s.mu.Unlock()
		return
	}
	if s.saving {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	if planner.HasInvalidValues(s.rows) {
		// Запрос не отправляется; правки остаются, пользователь исправит и
		// цикл перезапустится следующей правкой
		s.lastErr = ErrInvalidCells
		s.mu.Unlock()
		return
	}
	s.saving = true
	snapshot := cloneRows(s.rows)
	s.mu.Unlock()

	err := s.save(snapshot)

	s.mu.Lock()
	s.saving = false
	s.lastErr = err
	redo := s.dirty
	s.dirty = false
	if redo && !s.closed {
		s.scheduleLocked()
	}
	s.mu.Unlock()
}

// Flush форсирует немедленное сохранение (уход со страницы, тестовый хук).
// Если сохранение уже в полёте, текущее состояние подберёт его перезапуск.
func (s *EditSession) Flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.saving {
		s.dirty = true
		s.mu.Unlock()
		return nil
	}
	if planner.HasInvalidValues(s.rows) {
		s.mu.Unlock()
		return ErrInvalidCells
	}
	s.saving = true
	snapshot := cloneRows(s.rows)
	s.mu.Unlock()

	err := s.save(snapshot)

	s.mu.Lock()
	s.saving = false
	s.lastErr = err
	redo := s.dirty
	s.dirty = false
	if redo && !s.closed {
		s.scheduleLocked()
	}
	s.mu.Unlock()

	return err
}

// Close закрывает сессию: взведённый таймер снимается, отложенные сохранения
// больше не выполняются. Без этого правка, сделанная в окне дебаунса перед
// завершением пересчёта, перезаписала бы свежий расчёт старой таблицей.
func (s *EditSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// clean: все правки сохранены, ничего в полёте — сессию можно выбросить без
// потери данных
func (s *EditSession) clean() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.saving && !s.dirty && s.lastErr == nil
}

func (s *EditSession) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Rows отдаёт копию текущего состояния таблицы
func (s *EditSession) Rows() []models.ProductSupplyRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRows(s.rows)
}

// LastError: ошибка последней попытки сохранения (nil, если успешна)
func (s *EditSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func cloneRows(rows []models.ProductSupplyRow) []models.ProductSupplyRow {
	out := make([]models.ProductSupplyRow, len(rows))
	copy(out, rows)
	for i := range out {
		clusters := make([]models.ClusterSupplyEntry, len(out[i].Clusters))
		copy(clusters, out[i].Clusters)
		out[i].Clusters = clusters
	}
	return out
}

// Чистая сессия без обращений дольше этого срока выбрасывается из реестра
const sessionIdleTTL = 30 * time.Minute

// SessionManager: реестр открытых сессий, по одной на снапшот
type SessionManager struct {
	mu      sync.Mutex
	m       map[uint]*EditSession
	idleTTL time.Duration
}

func NewSessionManager() *SessionManager {
	return &SessionManager{m: make(map[uint]*EditSession), idleTTL: sessionIdleTTL}
}

// GetOrCreate возвращает сессию снапшота, при первом обращении создавая её
// через loader
func (sm *SessionManager) GetOrCreate(snapshotID uint, loader func() (*EditSession, error)) (*EditSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.sweepLocked(time.Now())

	if s, ok := sm.m[snapshotID]; ok {
		return s, nil
	}
	s, err := loader()
	if err != nil {
		return nil, err
	}
	sm.m[snapshotID] = s
	return s, nil
}

// Peek отдаёт открытую сессию снапшота, не создавая новую
func (sm *SessionManager) Peek(snapshotID uint) *EditSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.m[snapshotID]
}

// sweepLocked выбрасывает давно не трогавшиеся чистые сессии: простое чтение
// таблицы тоже заводит сессию, и без уборки реестр рос бы бесконечно. Сессии
// с несохранёнными правками (упавшее сохранение) не трогаются.
func (sm *SessionManager) sweepLocked(now time.Time) {
	for id, s := range sm.m {
		if now.Sub(s.idleSince()) > sm.idleTTL && s.clean() {
			delete(sm.m, id)
			s.Close()
		}
	}
}

// Drop закрывает сессию (снапшот пересчитан или удалён — данные в памяти
// устарели). Закрытие снимает взведённый таймер сохранения: отложенная правка
// не должна перезаписать свежий расчёт.
func (sm *SessionManager) Drop(snapshotID uint) {
	sm.mu.Lock()
	s, ok := sm.m[snapshotID]
	delete(sm.m, snapshotID)
	sm.mu.Unlock()

	if ok {
		s.Close()
	}
}
