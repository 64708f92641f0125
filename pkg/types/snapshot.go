package types

// Room metadata (written by the host only, change-notified to everyone):
//   started:    boolean
//   prompt:     string            // only while started
//   difficulty: "easy" | "medium" | "hard"
//   winners:    string[]          // participant identities, set when a round is won
//
// Line record (little endian):
//   from_x uint16 | from_y uint16 | to_x uint16 | to_y uint16
//   value = stored / 65535, stored = round(value * 65535)

// Difficulty levels as they appear on the wire.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)
