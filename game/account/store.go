package account

import (
	"context"

	"github.com/google/uuid"
)

// QuestEntrySnapshot is the persisted form of a QuestEntry.
type QuestEntrySnapshot struct {
	QuestID        int            `json:"quest_id"`
	Finished       int            `json:"finished"`
	Timer          int64          `json:"timer"`
	Branch         int            `json:"branch"`
	Stage          int            `json:"stage"`
	InEndingStages bool           `json:"in_ending_stages"`
	Data           map[string]any `json:"data"`
	Flow           []string       `json:"flow"`
}

// PoolEntrySnapshot is the persisted form of a PoolEntry.
type PoolEntrySnapshot struct {
	PoolID    int   `json:"pool_id"`
	LastGive  int64 `json:"last_give"`
	Completed []int `json:"completed"`
}

// AccountSnapshot is everything flushed for an account at save or unload.
type AccountSnapshot struct {
	RowID    int64                `json:"row_id"`
	Identity uuid.UUID            `json:"identity"`
	Quests   []QuestEntrySnapshot `json:"quests"`
	Pools    []PoolEntrySnapshot  `json:"pools"`
}

// EntryStore is the durable backing of accounts and their entries.
type EntryStore interface {
	// FindAccount returns the row id of identity, or found=false.
	FindAccount(ctx context.Context, identity uuid.UUID) (rowID int64, found bool, err error)
	CreateAccount(ctx context.Context, identity uuid.UUID) (int64, error)
	// DeleteAccount removes the account row and every entry that belongs to it.
	DeleteAccount(ctx context.Context, rowID int64) error

	LoadQuestEntries(ctx context.Context, rowID int64) ([]QuestEntrySnapshot, error)
	LoadPoolEntries(ctx context.Context, rowID int64) ([]PoolEntrySnapshot, error)

	// SaveQuestEntries upserts entries in batches.
	SaveQuestEntries(ctx context.Context, rowID int64, entries []QuestEntrySnapshot) error
	DeleteQuestEntry(ctx context.Context, rowID int64, questID int) error
	SavePoolEntry(ctx context.Context, rowID int64, entry PoolEntrySnapshot) error
	DeletePoolEntry(ctx context.Context, rowID int64, poolID int) error

	// DeleteQuestEverywhere removes the quest's entries of every account and returns how many were removed.
	DeleteQuestEverywhere(ctx context.Context, questID int) (int64, error)
	DeletePoolEverywhere(ctx context.Context, poolID int) (int64, error)

	EnsureDataColumns(ctx context.Context, columns []string) error
	LoadAccountData(ctx context.Context, rowID int64, columns []string) (map[string]string, error)
	// SaveAccountData writes one data column; nil stores NULL.
	SaveAccountData(ctx context.Context, rowID int64, column string, value *string) error
	ResetAccountData(ctx context.Context, rowID int64, columns []string) error
}
