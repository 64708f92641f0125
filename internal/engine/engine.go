package engine

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/drawsync/pkg/types"
)

var ErrGameInProgress = errors.New("game in progress")
var ErrGameNotStarted = errors.New("game not started")
var ErrMissingPrompt = errors.New("missing prompt")
var ErrInvalidDifficulty = errors.New("invalid difficulty")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Difficulty string

const (
	DifficultyEasy   Difficulty = types.DifficultyEasy
	DifficultyMedium Difficulty = types.DifficultyMedium
	DifficultyHard   Difficulty = types.DifficultyHard
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseEnded   Phase = "ended"
)

// State is the shared game record. The host is its only writer; everyone
// else holds the last copy observed in the room metadata.
type State struct {
	Started    bool       `json:"started"`
	Prompt     string     `json:"prompt,omitempty"`
	Difficulty Difficulty `json:"difficulty"`
	Winners    []string   `json:"winners"`
}

// Phase derives the coarse phase from the record.
func (s State) Phase() Phase {
	if s.Started {
		return PhaseRunning
	}
	if len(s.Winners) > 0 {
		return PhaseEnded
	}
	return PhaseIdle
}

// Drawable reports whether players may currently draw.
func (s State) Drawable() bool {
	return s.Started && len(s.Winners) == 0
}

func (s State) Equal(o State) bool {
	return s.Started == o.Started &&
		s.Prompt == o.Prompt &&
		s.Difficulty == o.Difficulty &&
		slices.Equal(s.Winners, o.Winners)
}

type CommandType string

const (
	CmdStartGame        CommandType = "StartGame"
	CmdEndGame          CommandType = "EndGame"
	CmdUpdateDifficulty CommandType = "UpdateDifficulty"
)

/*
	CmdStartGame        -> EvtGameStarted
	CmdEndGame          -> EvtGameEnded (-> EvtWinnersDeclared when the judge found winners)
	CmdUpdateDifficulty -> EvtDifficultyChanged
*/

type Command struct {
	Type       CommandType
	Prompt     string
	Difficulty Difficulty
	Winners    []string
}

type EventType string

const (
	EvtGameStarted       EventType = "GameStarted"
	EvtGameEnded         EventType = "GameEnded"
	EvtWinnersDeclared   EventType = "WinnersDeclared"
	EvtDifficultyChanged EventType = "DifficultyChanged"
)

type Event struct {
	Type       EventType
	Prompt     string
	Difficulty Difficulty
	Winners    []string
}

// Apply validates cmd against s and returns the resulting events and state.
// On error s is returned unchanged.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdStartGame:
		if s.Started {
			return nil, s, ErrGameInProgress
		}
		if cmd.Prompt == "" {
			return nil, s, ErrMissingPrompt
		}

		newState := State{
			Started:    true,
			Prompt:     cmd.Prompt,
			Difficulty: s.Difficulty,
			Winners:    []string{},
		}
		events := []Event{{Type: EvtGameStarted, Prompt: cmd.Prompt}}
		return events, newState, nil

	case CmdEndGame:
		if !s.Started {
			return nil, s, ErrGameNotStarted
		}

		winners := slices.Clone(cmd.Winners)
		if winners == nil {
			winners = []string{}
		}
		newState := State{
			Started:    false,
			Difficulty: s.Difficulty,
			Winners:    winners,
		}
		events := []Event{{Type: EvtGameEnded}}
		if len(winners) > 0 {
			events = append(events, Event{Type: EvtWinnersDeclared, Winners: slices.Clone(winners)})
		}
		return events, newState, nil

	case CmdUpdateDifficulty:
		if s.Started {
			return nil, s, ErrGameInProgress
		}
		if !cmd.Difficulty.Valid() {
			return nil, s, ErrInvalidDifficulty
		}

		newState := s
		newState.Winners = slices.Clone(s.Winners)
		newState.Difficulty = cmd.Difficulty
		return []Event{{Type: EvtDifficultyChanged, Difficulty: cmd.Difficulty}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Reduce folds events over the initial state.
func Reduce(events []Event) State {
	s := NewState()
	for _, event := range events {
		switch event.Type {
		case EvtGameStarted:
			s.Started = true
			s.Prompt = event.Prompt
			s.Winners = []string{}
		case EvtGameEnded:
			s.Started = false
			s.Prompt = ""
			s.Winners = []string{}
		case EvtWinnersDeclared:
			s.Winners = slices.Clone(event.Winners)
		case EvtDifficultyChanged:
			s.Difficulty = event.Difficulty
		}
	}
	return s
}
