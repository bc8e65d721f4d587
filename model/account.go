package model

import "time"

// PlayerAccount is the persistent identity of a quest account.
// Registered account data keys add extra nullable TEXT columns to this table at startup.
type PlayerAccount struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Identifier string    `gorm:"uniqueIndex;size:64;not null" json:"identifier"`
	PlayerUUID string    `gorm:"index;size:36;not null" json:"player_uuid"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PlayerAccount) TableName() string { return "player_accounts" }
