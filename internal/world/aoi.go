package world

import "github.com/l1jgo/worldtick/internal/core/entity"

// AOIGrid buckets actors into square cells so visibility queries only look
// at a 3x3 neighbourhood. The cell edge equals the view distance, so the
// neighbourhood always covers it.
//
// The tick driver is the only writer, and it never writes during the
// update phase, which is the only time the grid is read concurrently.
// That is why it carries no lock.
type AOIGrid struct {
	cellSize int32
	cells    map[cellKey]map[entity.ID]struct{}
}

type cellKey struct {
	mapID int16
	cx    int32
	cy    int32
}

func NewAOIGrid(cellSize int32) *AOIGrid {
	if cellSize < 1 {
		cellSize = ViewDistance
	}
	return &AOIGrid{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[entity.ID]struct{}),
	}
}

func (g *AOIGrid) coord(v int32) int32 {
	if v < 0 {
		return (v - g.cellSize + 1) / g.cellSize
	}
	return v / g.cellSize
}

func (g *AOIGrid) key(p Position) cellKey {
	return cellKey{mapID: p.MapID, cx: g.coord(p.X), cy: g.coord(p.Y)}
}

func (g *AOIGrid) Add(id entity.ID, p Position) {
	k := g.key(p)
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[entity.ID]struct{})
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
}

func (g *AOIGrid) Remove(id entity.ID, p Position) {
	k := g.key(p)
	if cell := g.cells[k]; cell != nil {
		delete(cell, id)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

// Move re-buckets id if the move crossed a cell boundary.
func (g *AOIGrid) Move(id entity.ID, from, to Position) {
	if g.key(from) == g.key(to) {
		return
	}
	g.Remove(id, from)
	g.Add(id, to)
}

// Nearby returns the IDs in the 3x3 cells around p. Callers filter by
// exact distance.
func (g *AOIGrid) Nearby(p Position) []entity.ID {
	cx, cy := g.coord(p.X), g.coord(p.Y)
	var out []entity.ID
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for id := range g.cells[cellKey{mapID: p.MapID, cx: cx + dx, cy: cy + dy}] {
				out = append(out, id)
			}
		}
	}
	return out
}

// Len returns the number of occupied cells.
func (g *AOIGrid) Len() int { return len(g.cells) }
