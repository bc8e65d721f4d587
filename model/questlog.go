package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	QuestLogJoin = "JOIN"
	QuestLogQuit = "QUIT"
)

// QuestLog is a snapshot of one quest entry taken when its account joined or quit.
type QuestLog struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Server         string         `gorm:"size:64;not null" json:"server"`
	LogType        string         `gorm:"size:8;not null" json:"log_type"`
	UserID         string         `gorm:"index:idx_questlog_user;size:36;not null" json:"user_id"`
	QuestID        int            `gorm:"not null" json:"quest_id"`
	Finished       int            `json:"finished"`
	Timer          int64          `json:"timer"`
	CurrentBranch  int            `json:"current_branch"`
	CurrentStage   int            `json:"current_stage"`
	AdditionalData datatypes.JSON `json:"additional_data"`
	QuestFlow      string         `gorm:"type:text" json:"quest_flow"`
	CreatedAt      time.Time      `gorm:"index:idx_questlog_created;autoCreateTime:milli" json:"created_at"`
}

func (QuestLog) TableName() string { return "quest_logs" }
