// Package tablestatus projects the status a terminal displays for a table
// from its stored status and the orders currently open on it.
package tablestatus

import "floor-sync/internal/models"

// Display is the status shown for a table. It extends models.TableStatus with Ready.
type Display string

const (
	Free     Display = Display(models.TableStatusFree)
	Occupied Display = Display(models.TableStatusOccupied)
	Reserved Display = Display(models.TableStatusReserved)
	Cleaning Display = Display(models.TableStatusCleaning)
	Closed   Display = Display(models.TableStatusClosed)
	Ready    Display = "ready"
)

// Resolve computes the displayed status of a table. orders must be the orders
// referencing the table; inactive ones are ignored. Priority:
//  1. any active order is ready -> Ready
//  2. a manual (non-free) stored status is shown as is
//  3. free with active orders -> Occupied
//  4. Free
func Resolve(raw models.TableStatus, orders []models.Order) Display {
	active := 0
	for i := range orders {
		if !orders[i].Status.Active() {
			continue
		}
		if orders[i].Status == models.OrderStatusReady {
			return Ready
		}
		active++
	}

	if raw != models.TableStatusFree {
		return Display(raw)
	}
	if active > 0 {
		return Occupied
	}
	return Free
}

// ResolveAll resolves every table against a mixed list of orders
func ResolveAll(tables []models.Table, orders []models.Order) map[int64]Display {
	byTable := make(map[int64][]models.Order)
	for _, o := range orders {
		if o.TableID == nil {
			continue
		}
		byTable[*o.TableID] = append(byTable[*o.TableID], o)
	}

	out := make(map[int64]Display, len(tables))
	for _, t := range tables {
		out[t.ID] = Resolve(t.Status, byTable[t.ID])
	}
	return out
}
