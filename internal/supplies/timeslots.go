package supplies

import (
	"time"

	"supplycrm-backend/internal/marketplace"
	"supplycrm-backend/internal/models"
)

// Группировка таймслотов для календаря: дни с разбивкой по времени суток.
// День присутствует в ответе даже без слотов — календарь показывает его как
// недоступный, маркер ставится только дням со слотами.

type DayPart string

const (
	PartMorning DayPart = "morning" // 06:00–11:59
	PartDay     DayPart = "day"     // 12:00–17:59
	PartEvening DayPart = "evening" // 18:00–23:59
	PartNight   DayPart = "night"   // 00:00–05:59
)

func dayPartOf(hour int) DayPart {
	switch {
	case hour >= 6 && hour < 12:
		return PartMorning
	case hour >= 12 && hour < 18:
		return PartDay
	case hour >= 18:
		return PartEvening
	default:
		return PartNight
	}
}

// TimeslotDay: один день календаря
type TimeslotDay struct {
	Date      string                        `json:"date"`
	HasSlots  bool                          `json:"has_slots"` // маркер на календаре
	Timeslots []models.Timeslot             `json:"timeslots"`
	Parts     map[DayPart][]models.Timeslot `json:"parts"`
}

// Формат времени слотов — локальное время склада без зоны
const slotTimeLayout = "2006-01-02T15:04:05"

// GroupTimeslots раскладывает слоты дней по времени суток
func GroupTimeslots(days []marketplace.DayTimeslots) []TimeslotDay {
	out := make([]TimeslotDay, 0, len(days))
	for _, day := range days {
		grouped := TimeslotDay{
			Date:      day.Date,
			HasSlots:  len(day.Timeslots) > 0,
			Timeslots: day.Timeslots,
			Parts:     make(map[DayPart][]models.Timeslot),
		}
		if grouped.Timeslots == nil {
			grouped.Timeslots = []models.Timeslot{}
		}

		for _, slot := range day.Timeslots {
			from, err := time.Parse(slotTimeLayout, slot.From)
			if err != nil {
				continue
			}
			part := dayPartOf(from.Hour())
			grouped.Parts[part] = append(grouped.Parts[part], slot)
		}

		out = append(out, grouped)
	}
	return out
}
