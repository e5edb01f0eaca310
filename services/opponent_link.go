package services

import (
	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"squad-match-service/models"
)

// linkOpponents points a and b at each other and moves both to status.
// Each write only lands on a squad that has no opponent yet, so a squad
// can never be linked twice. Callers run it inside their transaction and
// roll back on error.
func linkOpponents(tx *gorm.DB, a, b *models.Squad, status string) error {
	if a.ID == b.ID {
		return eris.Wrapf(ErrInvalidParams, "cannot link squad %s to itself", a.ID)
	}

	for _, pair := range [][2]*models.Squad{{a, b}, {b, a}} {
		self, other := pair[0], pair[1]
		res := tx.Model(&models.Squad{}).
			Where("id = ? AND opponent_squad_id IS NULL", self.ID).
			Updates(map[string]interface{}{
				"opponent_squad_id": other.ID,
				"status":            status,
			})
		if res.Error != nil {
			return eris.Wrapf(res.Error, "failed to link squad %s", self.ID)
		}
		if res.RowsAffected != 1 {
			return eris.Wrapf(ErrAlreadyLinked, "squad %s", self.ID)
		}
	}

	aID, bID := a.ID, b.ID
	a.OpponentSquadID, a.Status = &bID, status
	b.OpponentSquadID, b.Status = &aID, status
	return nil
}
