package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Hien110/ecare-signaling/internal/models"
)

// Ledger persists pending actions keyed by action id. Writes and
// deletes are idempotent; drain order is insertion order.
type Ledger struct {
	store *Store
}

func NewLedger(store *Store) *Ledger {
	return &Ledger{store: store}
}

// Append records a deferred action. Appending the same action id twice
// keeps the original row, so a retried headless handler cannot double
// it.
func (l *Ledger) Append(action models.PendingAction) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal pending action: %w", err)
	}

	var existing PendingActionRecord
	err = l.store.db.Where("action_id = ?", action.ID).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	rec := PendingActionRecord{
		ActionID:  action.ID,
		Kind:      string(action.Kind),
		Payload:   string(payload),
		CreatedAt: action.CreatedAt,
	}
	return l.store.db.Create(&rec).Error
}

// List returns all pending actions in insertion order.
func (l *Ledger) List() ([]models.PendingAction, error) {
	var recs []PendingActionRecord
	if err := l.store.db.Order("seq asc").Find(&recs).Error; err != nil {
		return nil, err
	}

	actions := make([]models.PendingAction, 0, len(recs))
	for _, rec := range recs {
		var action models.PendingAction
		if err := json.Unmarshal([]byte(rec.Payload), &action); err != nil {
			// A corrupt row must not wedge the drain; drop it.
			_ = l.Delete(rec.ActionID)
			continue
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// Delete removes an action by id. Deleting an absent id is a no-op.
func (l *Ledger) Delete(actionID string) error {
	return l.store.db.Where("action_id = ?", actionID).Delete(&PendingActionRecord{}).Error
}
