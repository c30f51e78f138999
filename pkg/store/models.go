package store

import "time"

// CallModel is the gorm row for an archived call.
type CallModel struct {
	CallID     string `gorm:"primaryKey;size:128"`
	Direction  string `gorm:"size:16"`
	FromNumber string `gorm:"size:64"`
	ToNumber   string `gorm:"size:64"`
	Status     string `gorm:"size:16;not null"`
	ScriptName string `gorm:"size:128"`
	FinalState string `gorm:"size:128"`
	Metadata   string `gorm:"type:text"`
	CreatedAt  time.Time
	EndedAt    *time.Time  `gorm:"index"`
	Turns      []TurnModel `gorm:"foreignKey:CallID;references:CallID;constraint:OnDelete:CASCADE"`
}

func (CallModel) TableName() string { return "calls" }

// TurnModel is one archived conversation turn.
type TurnModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	CallID      string `gorm:"size:128;not null;index:idx_call_turns_seq"`
	Seq         int    `gorm:"index:idx_call_turns_seq"`
	Speaker     string `gorm:"size:8;not null"`
	Text        string `gorm:"type:text"`
	Intent      string `gorm:"size:64"`
	Entities    string `gorm:"type:text"`
	StateAtTurn string `gorm:"size:128"`
	CreatedAt   time.Time
}

func (TurnModel) TableName() string { return "call_turns" }
