package model

// PoolEntryRow is the persisted bookkeeping of one account on one quest pool.
type PoolEntryRow struct {
	ID              int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID       int64  `gorm:"uniqueIndex:idx_account_pool;not null" json:"account_id"`
	PoolID          int    `gorm:"uniqueIndex:idx_account_pool;index:idx_pool;not null" json:"pool_id"`
	LastGive        int64  `gorm:"not null" json:"last_give"`            // unix millis
	CompletedQuests string `gorm:"type:text" json:"completed_quests"` // ";"-joined quest ids
}

func (PoolEntryRow) TableName() string { return "player_pools" }
