package drawing

// Log is the ordered record of one participant's lines since the last
// clear. It is not safe for concurrent use; a single event loop owns it.
type Log struct {
	lines      []Line
	generation int
}

func NewLog() *Log {
	return &Log{}
}

// NewLogFrom builds a log holding a copy of lines.
func NewLogFrom(lines []Line) *Log {
	l := &Log{}
	l.lines = append(l.lines, lines...)
	return l
}

func (l *Log) Append(line Line) {
	l.lines = append(l.lines, line)
}

// Clear drops every line. There is no undo.
func (l *Log) Clear() {
	l.lines = nil
	l.generation++
}

// Snapshot returns a copy of the lines in insertion order.
func (l *Log) Snapshot() []Line {
	out := make([]Line, len(l.lines))
	copy(out, l.lines)
	return out
}

func (l *Log) Len() int { return len(l.lines) }

// Generation counts the clears applied to this log.
func (l *Log) Generation() int { return l.generation }
