package host

import (
	"github.com/DoyleJ11/drawsync/internal/catchup"
	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/engine"
	"github.com/DoyleJ11/drawsync/internal/guess"
	"github.com/DoyleJ11/drawsync/pkg/types"
)

type Msg interface{ isHostMsg() }

type StartGame struct {
	Prompt string
	Reply  chan types.StartGameResponse
}

type EndGame struct {
	Reply chan types.EndGameResponse
}

type UpdateDifficulty struct {
	Difficulty string
	Reply      chan types.UpdateDifficultyResponse
}

type CaughtUp struct {
	Result catchup.Result
}

// Judged carries the outcome of one judge round back to the loop.
type Judged struct {
	Round   uint64
	Guesses guess.Table
	Changed bool
	Winners []string
	Err     error
}

type GetView struct {
	Reply chan View
}

func (StartGame) isHostMsg()        {}
func (EndGame) isHostMsg()          {}
func (UpdateDifficulty) isHostMsg() {}
func (CaughtUp) isHostMsg()         {}
func (Judged) isHostMsg()           {}
func (GetView) isHostMsg()          {}

type View struct {
	Game     engine.State
	Players  []string
	Drawings map[string][]drawing.Line
	Guesses  guess.Table
	Round    uint64
}
