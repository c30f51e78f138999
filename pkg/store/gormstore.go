package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/core/conversation"
)

// GormArchive stores calls through gorm. It backs the SQLite development
// archive and MySQL deployments.
type GormArchive struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) a SQLite archive at path.
func OpenSQLite(path string) (*GormArchive, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, wrap(fmt.Sprintf("open sqlite %s", path), err)
	}
	return NewGormArchive(db)
}

// OpenMySQL opens (and migrates) a MySQL archive.
func OpenMySQL(dsn string) (*GormArchive, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, wrap("open mysql", err)
	}
	return NewGormArchive(db)
}

// NewGormArchive wraps an open connection and auto-migrates the tables.
func NewGormArchive(db *gorm.DB) (*GormArchive, error) {
	if err := db.AutoMigrate(&CallModel{}, &TurnModel{}); err != nil {
		return nil, wrap("auto-migrate", err)
	}
	return &GormArchive{db: db}, nil
}

func (a *GormArchive) SaveCall(ctx context.Context, rec CallRecord) error {
	meta, err := json.Marshal(nonNil(rec.Metadata))
	if err != nil {
		return wrap("marshal metadata", err)
	}
	call := CallModel{
		CallID:     rec.CallID,
		Direction:  rec.Direction,
		FromNumber: rec.FromNumber,
		ToNumber:   rec.ToNumber,
		Status:     rec.Status,
		ScriptName: rec.ScriptName,
		FinalState: rec.FinalState,
		Metadata:   string(meta),
		CreatedAt:  rec.CreatedAt,
		EndedAt:    rec.EndedAt,
	}
	turns := make([]TurnModel, 0, len(rec.Turns))
	for i, t := range rec.Turns {
		ents, err := json.Marshal(nonNil(t.Entities))
		if err != nil {
			return wrap("marshal entities", err)
		}
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		turns = append(turns, TurnModel{
			ID:          id,
			CallID:      rec.CallID,
			Seq:         i,
			Speaker:     string(t.Speaker),
			Text:        t.Text,
			Intent:      t.Intent,
			Entities:    string(ents),
			StateAtTurn: t.StateAtTurn,
			CreatedAt:   t.Timestamp,
		})
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev CallModel
		err := tx.Limit(1).Find(&prev, "call_id = ?", rec.CallID).Error
		if err != nil {
			return err
		}
		if prev.CallID != "" {
			call = mergeCall(prev, call)
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "script_name", "final_state", "metadata", "ended_at"}),
		}).Create(&call)
		if res.Error != nil {
			return res.Error
		}
		if len(turns) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&turns).Error
	})
	if err != nil {
		return wrap("save call", err)
	}
	return nil
}

// mergeCall keeps the stored value of every column the new row leaves empty,
// and the first recorded end time.
func mergeCall(prev, next CallModel) CallModel {
	if next.ScriptName == "" {
		next.ScriptName = prev.ScriptName
	}
	if next.FinalState == "" {
		next.FinalState = prev.FinalState
	}
	if next.Metadata == "" || next.Metadata == "{}" {
		next.Metadata = prev.Metadata
	}
	if prev.EndedAt != nil {
		next.EndedAt = prev.EndedAt
	}
	return next
}

func (a *GormArchive) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	var call CallModel
	err := a.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		First(&call, "call_id = ?", callID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CallRecord{}, core.NewNotFoundError(fmt.Sprintf("call %q not found", callID))
	}
	if err != nil {
		return CallRecord{}, wrap("get call", err)
	}

	rec := CallRecord{
		CallID:     call.CallID,
		Direction:  call.Direction,
		FromNumber: call.FromNumber,
		ToNumber:   call.ToNumber,
		Status:     call.Status,
		ScriptName: call.ScriptName,
		FinalState: call.FinalState,
		CreatedAt:  call.CreatedAt,
		EndedAt:    call.EndedAt,
	}
	if call.Metadata != "" {
		_ = json.Unmarshal([]byte(call.Metadata), &rec.Metadata)
	}
	for _, t := range call.Turns {
		turn := conversation.Turn{
			ID:          t.ID,
			Speaker:     conversation.Speaker(t.Speaker),
			Text:        t.Text,
			Intent:      t.Intent,
			StateAtTurn: t.StateAtTurn,
			Timestamp:   t.CreatedAt,
		}
		if t.Entities != "" && t.Entities != "{}" {
			_ = json.Unmarshal([]byte(t.Entities), &turn.Entities)
		}
		rec.Turns = append(rec.Turns, turn)
	}
	return rec, nil
}

func (a *GormArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
