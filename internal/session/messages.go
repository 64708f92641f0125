package session

import (
	"github.com/DoyleJ11/drawsync/internal/catchup"
	"github.com/DoyleJ11/drawsync/internal/drawing"
	"github.com/DoyleJ11/drawsync/internal/engine"
	"github.com/DoyleJ11/drawsync/internal/guess"
)

type Msg interface{ isSessionMsg() }

type DrawLine struct {
	Line  drawing.Line
	Reply chan error
}

type ClearDrawing struct {
	Reply chan error
}

// GetDrawing serves a peer's catch-up request from the local log.
type GetDrawing struct {
	Reply chan []drawing.Line
}

// ExpectCatchUp marks peers whose snapshot is about to be requested.
type ExpectCatchUp struct {
	Peers []string
	Reply chan struct{}
}

type CaughtUp struct {
	Result catchup.Result
}

type Kicked struct {
	Reason string
}

type GetView struct {
	Reply chan View
}

type GetHost struct {
	Reply chan HostInfo
}

func (DrawLine) isSessionMsg()      {}
func (ClearDrawing) isSessionMsg()  {}
func (GetDrawing) isSessionMsg()    {}
func (ExpectCatchUp) isSessionMsg() {}
func (CaughtUp) isSessionMsg()      {}
func (Kicked) isSessionMsg()        {}
func (GetView) isSessionMsg()       {}
func (GetHost) isSessionMsg()       {}

// View is a consistent copy of everything the session knows.
type View struct {
	Identity string
	Host     string
	Game     engine.State
	Phase    engine.Phase
	Local    []drawing.Line
	Drawings map[string][]drawing.Line
	Guesses  guess.Table
	Players  []string
}

type HostInfo struct {
	Identity string
	Game     engine.State
}
