package detection

import (
	"github.com/sentineledr/core/internal/model"
	"github.com/sentineledr/core/internal/ring"
)

// AlertStore is the bounded ring of emitted alerts (spec §4.4, capacity
// 5000 by default), reusing the same ring.Buffer primitive as the
// History Store's rings.
type AlertStore struct {
	ring *ring.Buffer[model.Alert]
}

func NewAlertStore(capacity int) *AlertStore {
	return &AlertStore{ring: ring.New[model.Alert](capacity)}
}

func (a *AlertStore) Append(alert model.Alert) uint64 {
	return a.ring.Append(alert)
}

// Since implements the same (newCursor, events) delta-fetch contract as
// history.Store's *EventsSince methods (spec §4.3/§6). limit <= 0 means
// unlimited.
func (a *AlertStore) Since(after uint64, limit int) (alerts []model.Alert, newCursor uint64) {
	alerts, newCursor, _ = a.ring.Since(after, limit)
	return alerts, newCursor
}

func (a *AlertStore) All() []model.Alert {
	return a.ring.All()
}

func (a *AlertStore) Len() int { return a.ring.Len() }
