package model

import "gorm.io/datatypes"

// QuestEntryRow is the persisted progress of one account on one quest.
// A row with CurrentBranch -1 is a quest that is not running (never started or finished).
type QuestEntryRow struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID      int64          `gorm:"uniqueIndex:idx_account_quest;not null" json:"account_id"`
	QuestID        int            `gorm:"uniqueIndex:idx_account_quest;index:idx_quest;not null" json:"quest_id"`
	Finished       int            `gorm:"not null" json:"finished"`
	Timer          int64          `gorm:"not null" json:"timer"` // unix millis of last finish, 0 if none
	CurrentBranch  int            `gorm:"not null" json:"current_branch"`
	CurrentStage   int            `gorm:"not null" json:"current_stage"`
	InEndingStages bool           `gorm:"not null" json:"in_ending_stages"`
	AdditionalData datatypes.JSON `json:"additional_data"`
	QuestFlow      string         `gorm:"type:text" json:"quest_flow"` // ";"-joined stage flow ids
}

func (QuestEntryRow) TableName() string { return "player_quests" }
