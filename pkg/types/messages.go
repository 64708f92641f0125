package types

// Data channel topics. Payloads are raw bytes.
const (
	// TopicDrawLine carries one 8-byte line record.
	TopicDrawLine = "player.draw_line"
	// TopicClearDrawing carries an empty payload.
	TopicClearDrawing = "player.clear_drawing"
	// TopicGuess carries the host's full guess table as a JSON object.
	TopicGuess = "host.guess"
)

// RPC methods. Payloads are text.
const (
	MethodGetDrawing       = "player.get_drawing"
	MethodKick             = "player.kick"
	MethodStartGame        = "host.start_game"
	MethodEndGame          = "host.end_game"
	MethodUpdateDifficulty = "host.update_difficulty"
)

// Player -> Host

// StartGameRequest is the host.start_game payload. An empty prompt lets
// the host pick one for the current difficulty.
type StartGameRequest struct {
	Prompt string `json:"prompt,omitempty"`
}

// UpdateDifficultyRequest is the host.update_difficulty payload.
type UpdateDifficultyRequest struct {
	Difficulty string `json:"difficulty"`
}

// Host -> Player

// KickRequest is the player.kick payload.
type KickRequest struct {
	Reason string `json:"reason"`
}

// Responses

type StartGameResponse struct {
	Started bool `json:"started"`
}

type EndGameResponse struct {
	Stopped bool `json:"stopped"`
}

type UpdateDifficultyResponse struct {
	Updated bool `json:"updated"`
}

// player.get_drawing:
//   request:  ""
//   response: base64(line_0 || line_1 || ... || line_n), 8 bytes per line
