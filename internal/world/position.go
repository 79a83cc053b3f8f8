package world

// Position is a tile on a map.
type Position struct {
	X     int32
	Y     int32
	MapID int16
}

// Direction is one of eight compass headings, or DirNone.
type Direction int8

const DirNone Direction = -1

const (
	DirNorth Direction = iota
	DirNorthEast
	DirEast
	DirSouthEast
	DirSouth
	DirSouthWest
	DirWest
	DirNorthWest
)

var dirDX = [8]int32{0, 1, 1, 1, 0, -1, -1, -1}
var dirDY = [8]int32{-1, -1, 0, 1, 1, 1, 0, -1}

func (d Direction) Valid() bool { return d >= DirNorth && d <= DirNorthWest }

// Step returns the adjacent tile in direction d.
func (p Position) Step(d Direction) Position {
	if !d.Valid() {
		return p
	}
	return Position{X: p.X + dirDX[d], Y: p.Y + dirDY[d], MapID: p.MapID}
}

// Distance is the Chebyshev distance between two tiles, or -1 when they
// are on different maps.
func (p Position) Distance(o Position) int32 {
	if p.MapID != o.MapID {
		return -1
	}
	return max(abs32(p.X-o.X), abs32(p.Y-o.Y))
}

// Within reports whether o is on the same map and at most r tiles away.
func (p Position) Within(o Position, r int32) bool {
	d := p.Distance(o)
	return d >= 0 && d <= r
}

// DirectionTo returns the heading that moves p one step closer to o.
func (p Position) DirectionTo(o Position) Direction {
	dx, dy := sign32(o.X-p.X), sign32(o.Y-p.Y)
	for d := DirNorth; d <= DirNorthWest; d++ {
		if dirDX[d] == dx && dirDY[d] == dy {
			return d
		}
	}
	return DirNone
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func sign32(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
