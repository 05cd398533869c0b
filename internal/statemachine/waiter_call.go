package statemachine

import (
	"fmt"
	"time"

	"floor-sync/internal/models"
)

// AcknowledgeCall moves a pending call to acknowledged.
// Acknowledging an acknowledged call is a no-op and reports changed=false.
func AcknowledgeCall(call *models.WaiterCall, actor int64, at time.Time) (changed bool, err error) {
	switch call.Status {
	case models.CallStatusAcknowledged:
		return false, nil
	case models.CallStatusPending:
		at = notBefore(at, call.CreatedAt)
		call.Status = models.CallStatusAcknowledged
		call.AcknowledgedAt = &at
		call.AcknowledgedBy = &actor
		return true, nil
	case models.CallStatusResolved:
		return false, fmt.Errorf("%w: call %d is already resolved", ErrInvalidTransition, call.ID)
	default:
		return false, fmt.Errorf("%w: call status %q", ErrUnknownStatus, call.Status)
	}
}

// ResolveCall closes a call. A pending call is acknowledged implicitly at the
// same instant so acknowledged_at is always set whenever resolved_at is.
func ResolveCall(call *models.WaiterCall, actor int64, at time.Time) error {
	switch call.Status {
	case models.CallStatusPending:
		if _, err := AcknowledgeCall(call, actor, at); err != nil {
			return err
		}
	case models.CallStatusAcknowledged:
	case models.CallStatusResolved:
		return fmt.Errorf("%w: call %d is already resolved", ErrInvalidTransition, call.ID)
	default:
		return fmt.Errorf("%w: call status %q", ErrUnknownStatus, call.Status)
	}

	at = notBefore(at, *call.AcknowledgedAt)
	call.Status = models.CallStatusResolved
	call.ResolvedAt = &at
	call.ResolvedBy = &actor
	return nil
}

func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
