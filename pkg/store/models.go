package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"reelsync/pkg/domain"
)

// UserStateModel is the GORM row holding one identity's document.
type UserStateModel struct {
	ID            string         `gorm:"primaryKey"`
	Kind          string         `gorm:"not null;index"`
	SchemaVersion int            `gorm:"not null;default:0"`
	Document      datatypes.JSON `gorm:"type:jsonb;not null"`
	LastActive    time.Time
	UpdatedAt     time.Time `gorm:"not null"`
}

func (UserStateModel) TableName() string {
	return "user_states"
}

func toModel(id string, state domain.UserState, now time.Time) (UserStateModel, error) {
	state.ID = id
	raw, err := json.Marshal(state)
	if err != nil {
		return UserStateModel{}, fmt.Errorf("encode user document: %w", err)
	}
	return UserStateModel{
		ID:            id,
		Kind:          string(state.Kind),
		SchemaVersion: state.SchemaVersion,
		Document:      datatypes.JSON(raw),
		LastActive:    state.LastActive,
		UpdatedAt:     now,
	}, nil
}

func fromModel(m UserStateModel) (domain.UserState, error) {
	var state domain.UserState
	if err := json.Unmarshal(m.Document, &state); err != nil {
		return domain.UserState{}, fmt.Errorf("decode user document: %w", err)
	}
	if state.Kind == "" {
		state.Kind = domain.IdentityKind(m.Kind)
	}
	return prepareLoaded(state, m.ID), nil
}
