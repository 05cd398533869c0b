package statemachine

import (
	"fmt"
	"time"

	"floor-sync/internal/models"
)

// TableTransition is a request to move a table to a new status
type TableTransition struct {
	NewStatus models.TableStatus
	Reason    string
	Actor     int64
}

// TableChange describes an applied table transition
type TableChange struct {
	Previous models.TableStatus
	Entry    models.TableStatusEntry
}

// ReasonRecommended reports whether moving to status should carry an audit reason.
// Missing reasons are tolerated so an emergency reopen is never blocked.
func ReasonRecommended(status models.TableStatus) bool {
	return status == models.TableStatusClosed || status == models.TableStatusCleaning
}

// ApplyTable moves table to tr.NewStatus and appends exactly one history entry.
// Any status may follow any other; only a no-op transition is refused.
func ApplyTable(table *models.Table, tr TableTransition, at time.Time) (*TableChange, error) {
	if !tr.NewStatus.Valid() {
		return nil, fmt.Errorf("%w: table status %q", ErrUnknownStatus, tr.NewStatus)
	}
	if table.Status == tr.NewStatus {
		return nil, fmt.Errorf("%w: table %d is %s", ErrAlreadyInState, table.ID, table.Status)
	}

	change := &TableChange{
		Previous: table.Status,
		Entry: models.TableStatusEntry{
			TableID:   table.ID,
			Status:    tr.NewStatus,
			Reason:    tr.Reason,
			ChangedBy: tr.Actor,
			ChangedAt: at,
		},
	}

	table.Status = tr.NewStatus
	table.UpdatedAt = at
	table.StatusHistory = append(table.StatusHistory, change.Entry)

	return change, nil
}
