package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

func NewState() State {
	return State{
		Difficulty: DifficultyEasy,
		Winners:    []string{},
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Metadata encodes s as the room metadata blob.
func (s State) Metadata() (string, error) {
	if s.Winners == nil {
		s.Winners = []string{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode game state: %w", err)
	}
	return string(data), nil
}

// ParseMetadata decodes a room metadata blob. An empty blob is the initial
// state; missing fields fall back to their initial values.
func ParseMetadata(blob string) (State, error) {
	s := NewState()
	if strings.TrimSpace(blob) == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(blob), &s); err != nil {
		return NewState(), fmt.Errorf("decode game state: %w", err)
	}
	if s.Difficulty == "" {
		s.Difficulty = DifficultyEasy
	}
	if !s.Difficulty.Valid() {
		return NewState(), fmt.Errorf("decode game state: %w: %q", ErrInvalidDifficulty, s.Difficulty)
	}
	if s.Winners == nil {
		s.Winners = []string{}
	}
	if !s.Started {
		s.Prompt = ""
	}
	return s, nil
}

func ParseDifficulty(v string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(v)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, v)
	}
	return d, nil
}
