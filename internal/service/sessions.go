package service

import (
	"time"

	"floor-sync/internal/models"
)

// BuildSessions reconstructs table sessions from the status history (oldest first)
// and the table's orders. A session opens when the table becomes occupied and closes
// when it is next freed; intermediate statuses such as cleaning keep it open.
// Sessions are returned oldest first; at most the last one is active.
func BuildSessions(tableID int64, history []models.TableStatusEntry, orders []models.Order, now time.Time) []models.TableSession {
	var (
		sessions []models.TableSession
		open     *models.TableSession
	)

	for _, entry := range history {
		switch {
		case entry.Status == models.TableStatusOccupied && open == nil:
			open = &models.TableSession{
				TableID:   tableID,
				StartedAt: entry.ChangedAt,
				StartedBy: entry.ChangedBy,
			}
		case entry.Status == models.TableStatusFree && open != nil:
			endedAt := entry.ChangedAt
			endedBy := entry.ChangedBy
			open.EndedAt = &endedAt
			open.EndedBy = &endedBy
			sessions = append(sessions, *open)
			open = nil
		}
	}
	if open != nil {
		sessions = append(sessions, *open)
	}

	for i := range sessions {
		s := &sessions[i]
		for _, order := range orders {
			if order.CreatedAt.Before(s.StartedAt) {
				continue
			}
			if s.EndedAt != nil && !order.CreatedAt.Before(*s.EndedAt) {
				continue
			}
			s.Orders = append(s.Orders, order)
			s.OrderCount++
			if order.Status != models.OrderStatusCancelled {
				s.TotalRevenue += order.Total
			}
		}

		end := now
		if s.EndedAt != nil {
			end = *s.EndedAt
		}
		s.DurationMinutes = int(end.Sub(s.StartedAt) / time.Minute)
	}

	return sessions
}
