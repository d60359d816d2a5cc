package arena

// FramePlayer is one participant's position in a replay frame.
type FramePlayer struct {
	ID    ParticipantID `json:"id"`
	X     int           `json:"x"`
	Y     int           `json:"y"`
	Alive bool          `json:"alive"`
}

// Frame captures the grid after one tick. Walls lists only the hazards that
// solidified since the previous frame.
type Frame struct {
	Tick    int           `json:"t"`
	Players []FramePlayer `json:"p"`
	Walls   []Position    `json:"w,omitempty"`
}

// Replay is the recorded history of a match.
type Replay struct {
	GridSize  int     `json:"gridSize"`
	Frames    []Frame `json:"frames"`
	Truncated bool    `json:"truncated,omitempty"`
}

// Recorder accumulates replay frames up to a fixed cap.
type Recorder struct {
	gridSize  int
	max       int
	frames    []Frame
	newWalls  []Position
	truncated bool
}

// NewRecorder returns a recorder keeping at most maxFrames frames. A zero
// cap disables recording.
func NewRecorder(gridSize, maxFrames int) *Recorder {
	return &Recorder{gridSize: gridSize, max: maxFrames}
}

func (r *Recorder) noteWall(pos Position) {
	if r.max == 0 {
		return
	}
	r.newWalls = append(r.newWalls, pos)
}

// Record appends a frame for the engine's current state.
func (r *Recorder) Record(e *Engine) {
	if r.max == 0 {
		return
	}
	if len(r.frames) >= r.max {
		r.truncated = true
		r.newWalls = r.newWalls[:0]
		return
	}
	f := Frame{
		Tick:    e.tick,
		Players: make([]FramePlayer, 0, len(e.order)),
	}
	for _, id := range e.order {
		p := e.participants[id]
		f.Players = append(f.Players, FramePlayer{ID: id, X: p.Pos.X, Y: p.Pos.Y, Alive: p.Alive})
	}
	if len(r.newWalls) > 0 {
		f.Walls = append([]Position(nil), r.newWalls...)
		r.newWalls = r.newWalls[:0]
	}
	r.frames = append(r.frames, f)
}

// Replay returns a copy of the recorded frames.
func (r *Recorder) Replay() *Replay {
	return &Replay{
		GridSize:  r.gridSize,
		Frames:    append([]Frame(nil), r.frames...),
		Truncated: r.truncated,
	}
}
