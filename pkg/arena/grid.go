package arena

import "fmt"

// Direction is one of the four cardinal headings a participant can face.
type Direction uint8

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Directions lists every cardinal direction in a fixed order.
var Directions = [4]Direction{Up, Down, Left, Right}

func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// MarshalText encodes the direction using its wire name.
func (d Direction) MarshalText() ([]byte, error) {
	if d > Right {
		return nil, fmt.Errorf("invalid direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText decodes a wire name into a direction.
func (d *Direction) UnmarshalText(b []byte) error {
	dir, ok := ParseDirection(string(b))
	if !ok {
		return fmt.Errorf("invalid direction %q", string(b))
	}
	*d = dir
	return nil
}

// ParseDirection maps a wire name ("UP", "DOWN", "LEFT", "RIGHT") to a
// Direction. Any other value reports false.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "UP":
		return Up, true
	case "DOWN":
		return Down, true
	case "LEFT":
		return Left, true
	case "RIGHT":
		return Right, true
	}
	return 0, false
}

// Position is an integer grid cell.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Step returns the cell one move away from pos in direction dir. Y grows
// downward.
func Step(pos Position, dir Direction) Position {
	switch dir {
	case Up:
		pos.Y--
	case Down:
		pos.Y++
	case Left:
		pos.X--
	case Right:
		pos.X++
	}
	return pos
}

// InBounds reports whether pos lies on a grid of side gridSize.
func InBounds(pos Position, gridSize int) bool {
	return pos.X >= 0 && pos.Y >= 0 && pos.X < gridSize && pos.Y < gridSize
}

// InsideBorder reports whether pos lies on the grid but off the outer ring.
func InsideBorder(pos Position, gridSize int) bool {
	return pos.X >= 1 && pos.Y >= 1 && pos.X < gridSize-1 && pos.Y < gridSize-1
}
