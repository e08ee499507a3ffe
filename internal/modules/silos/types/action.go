package types

import (
	"fmt"
	"strings"
	"time"
)

type ActionKind string

const (
	ActionVentilate ActionKind = "ventilate"
	ActionTreat     ActionKind = "treat"
)

func ParseActionKind(s string) (ActionKind, error) {
	switch ActionKind(strings.ToLower(strings.TrimSpace(s))) {
	case ActionVentilate:
		return ActionVentilate, nil
	case ActionTreat:
		return ActionTreat, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Action is one entry of the silo_actions log.
type Action struct {
	ID          int64      `json:"id,omitempty"`
	SiloID      string     `json:"silo_id"`
	Action      ActionKind `json:"action"`
	PerformedAt time.Time  `json:"performed_at"`
}
