// Package store persists quest accounts with gorm.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/kasuganosora/questkeeper/game/account"
	"github.com/kasuganosora/questkeeper/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// batchSize bounds the rows of one upsert statement.
const batchSize = 100

var validColumn = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// GormStore implements account.EntryStore on the player_accounts,
// player_quests and player_pools tables.
type GormStore struct {
	db *gorm.DB
}

var _ account.EntryStore = (*GormStore)(nil)

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindAccount(ctx context.Context, identity uuid.UUID) (int64, bool, error) {
	var row model.PlayerAccount
	err := s.db.WithContext(ctx).Select("id").Where("identifier = ?", identity.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.ID, true, nil
}

func (s *GormStore) CreateAccount(ctx context.Context, identity uuid.UUID) (int64, error) {
	row := &model.PlayerAccount{Identifier: identity.String(), PlayerUUID: identity.String()}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (s *GormStore) DeleteAccount(ctx context.Context, rowID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", rowID).Delete(&model.QuestEntryRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", rowID).Delete(&model.PoolEntryRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.PlayerAccount{}, rowID).Error
	})
}

func (s *GormStore) LoadQuestEntries(ctx context.Context, rowID int64) ([]account.QuestEntrySnapshot, error) {
	var rows []model.QuestEntryRow
	if err := s.db.WithContext(ctx).Where("account_id = ?", rowID).Order("quest_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]account.QuestEntrySnapshot, 0, len(rows))
	for i := range rows {
		snap, err := fromQuestRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *GormStore) LoadPoolEntries(ctx context.Context, rowID int64) ([]account.PoolEntrySnapshot, error) {
	var rows []model.PoolEntryRow
	if err := s.db.WithContext(ctx).Where("account_id = ?", rowID).Order("pool_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]account.PoolEntrySnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, account.PoolEntrySnapshot{
			PoolID:    r.PoolID,
			LastGive:  r.LastGive,
			Completed: account.ParseQuestIDs(r.CompletedQuests),
		})
	}
	return out, nil
}

func (s *GormStore) SaveQuestEntries(ctx context.Context, rowID int64, entries []account.QuestEntrySnapshot) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]model.QuestEntryRow, 0, len(entries))
	for _, e := range entries {
		row, err := toQuestRow(rowID, e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "quest_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"finished", "timer", "current_branch", "current_stage",
			"in_ending_stages", "additional_data", "quest_flow",
		}),
	}).CreateInBatches(rows, batchSize).Error
}

func (s *GormStore) DeleteQuestEntry(ctx context.Context, rowID int64, questID int) error {
	return s.db.WithContext(ctx).
		Where("account_id = ? AND quest_id = ?", rowID, questID).
		Delete(&model.QuestEntryRow{}).Error
}

func (s *GormStore) SavePoolEntry(ctx context.Context, rowID int64, entry account.PoolEntrySnapshot) error {
	row := model.PoolEntryRow{
		AccountID:       rowID,
		PoolID:          entry.PoolID,
		LastGive:        entry.LastGive,
		CompletedQuests: account.FormatQuestIDs(entry.Completed),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "pool_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_give", "completed_quests"}),
	}).Create(&row).Error
}

func (s *GormStore) DeletePoolEntry(ctx context.Context, rowID int64, poolID int) error {
	return s.db.WithContext(ctx).
		Where("account_id = ? AND pool_id = ?", rowID, poolID).
		Delete(&model.PoolEntryRow{}).Error
}

func (s *GormStore) DeleteQuestEverywhere(ctx context.Context, questID int) (int64, error) {
	res := s.db.WithContext(ctx).Where("quest_id = ?", questID).Delete(&model.QuestEntryRow{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) DeletePoolEverywhere(ctx context.Context, poolID int) (int64, error) {
	res := s.db.WithContext(ctx).Where("pool_id = ?", poolID).Delete(&model.PoolEntryRow{})
	return res.RowsAffected, res.Error
}

// EnsureDataColumns adds a nullable TEXT column for every missing account data column.
func (s *GormStore) EnsureDataColumns(ctx context.Context, columns []string) error {
	db := s.db.WithContext(ctx)
	table := model.PlayerAccount{}.TableName()
	for _, col := range columns {
		if !validColumn.MatchString(col) {
			return fmt.Errorf("store: invalid data column %q", col)
		}
		if db.Migrator().HasColumn(&model.PlayerAccount{}, col) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", table, col)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("store: add data column %q: %w", col, err)
		}
	}
	return nil
}

// LoadAccountData returns the non-NULL data columns of an account.
func (s *GormStore) LoadAccountData(ctx context.Context, rowID int64, columns []string) (map[string]string, error) {
	for _, col := range columns {
		if !validColumn.MatchString(col) {
			return nil, fmt.Errorf("store: invalid data column %q", col)
		}
	}
	row := map[string]interface{}{}
	err := s.db.WithContext(ctx).Model(&model.PlayerAccount{}).
		Select(columns).Where("id = ?", rowID).Take(&row).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(row))
	for col, v := range row {
		switch t := v.(type) {
		case nil:
		case string:
			out[col] = t
		case []byte:
			out[col] = string(t)
		default:
			out[col] = fmt.Sprint(t)
		}
	}
	return out, nil
}

func (s *GormStore) SaveAccountData(ctx context.Context, rowID int64, column string, value *string) error {
	if !validColumn.MatchString(column) {
		return fmt.Errorf("store: invalid data column %q", column)
	}
	var v interface{}
	if value != nil {
		v = *value
	}
	return s.db.WithContext(ctx).Model(&model.PlayerAccount{}).
		Where("id = ?", rowID).Update(column, v).Error
}

func (s *GormStore) ResetAccountData(ctx context.Context, rowID int64, columns []string) error {
	if len(columns) == 0 {
		return nil
	}
	updates := make(map[string]interface{}, len(columns))
	for _, col := range columns {
		if !validColumn.MatchString(col) {
			return fmt.Errorf("store: invalid data column %q", col)
		}
		updates[col] = nil
	}
	return s.db.WithContext(ctx).Model(&model.PlayerAccount{}).
		Where("id = ?", rowID).Updates(updates).Error
}

func toQuestRow(rowID int64, e account.QuestEntrySnapshot) (model.QuestEntryRow, error) {
	row := model.QuestEntryRow{
		AccountID:      rowID,
		QuestID:        e.QuestID,
		Finished:       e.Finished,
		Timer:          e.Timer,
		CurrentBranch:  e.Branch,
		CurrentStage:   e.Stage,
		InEndingStages: e.InEndingStages,
		QuestFlow:      account.FormatFlow(e.Flow),
	}
	if len(e.Data) > 0 {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return row, fmt.Errorf("store: encode data of quest %d: %w", e.QuestID, err)
		}
		row.AdditionalData = datatypes.JSON(raw)
	}
	return row, nil
}

func fromQuestRow(r *model.QuestEntryRow) (account.QuestEntrySnapshot, error) {
	snap := account.QuestEntrySnapshot{
		QuestID:        r.QuestID,
		Finished:       r.Finished,
		Timer:          r.Timer,
		Branch:         r.CurrentBranch,
		Stage:          r.CurrentStage,
		InEndingStages: r.InEndingStages,
		Data:           map[string]any{},
		Flow:           account.ParseFlow(r.QuestFlow),
	}
	if len(r.AdditionalData) > 0 && string(r.AdditionalData) != "null" {
		dec := json.NewDecoder(bytes.NewReader(r.AdditionalData))
		dec.UseNumber()
		var data map[string]any
		if err := dec.Decode(&data); err != nil {
			return snap, fmt.Errorf("store: decode data of quest %d: %w", r.QuestID, err)
		}
		for k, v := range data {
			snap.Data[k] = fromJSONNumbers(v)
		}
	}
	return snap, nil
}

// fromJSONNumbers turns the json.Numbers of a decoded value into int64 when
// they are integral and float64 otherwise.
func fromJSONNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSONNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = fromJSONNumbers(e)
		}
		return t
	}
	return v
}
