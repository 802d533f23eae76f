package db

import (
	"autopilot/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Proposal{},
		&models.Execution{},
		&models.ProposalEvent{},
		&models.BlindSpot{},
		&models.UserSettings{},
		&models.TradeRecord{},
		&models.AntiLagEvent{},
	)
}
