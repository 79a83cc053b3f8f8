package world

import "strings"

// UpdateFlag marks one kind of change an actor made this tick.
type UpdateFlag uint8

const (
	FlagAppearance UpdateFlag = iota
	FlagChat
	FlagGraphics
	FlagAnimation
	FlagForcedChat
	FlagFaceEntity
	FlagFaceCoordinate
	FlagHit
	FlagHit2
	FlagTransform
	flagCount
)

var flagNames = [flagCount]string{
	"appearance", "chat", "graphics", "animation", "forced_chat",
	"face_entity", "face_coordinate", "hit", "hit2", "transform",
}

func (f UpdateFlag) String() string {
	if f >= flagCount {
		return "unknown"
	}
	return flagNames[f]
}

// UpdateFlags is the per-tick change set of an actor. Flags are raised
// during pre-update, read during update and cleared in post-update.
type UpdateFlags uint16

func (u *UpdateFlags) Set(f UpdateFlag)     { *u |= 1 << f }
func (u *UpdateFlags) Clear(f UpdateFlag)   { *u &^= 1 << f }
func (u UpdateFlags) Has(f UpdateFlag) bool { return u&(1<<f) != 0 }
func (u UpdateFlags) Any() bool             { return u != 0 }
func (u *UpdateFlags) Reset()               { *u = 0 }

func (u UpdateFlags) String() string {
	if u == 0 {
		return "none"
	}
	var b strings.Builder
	for f := UpdateFlag(0); f < flagCount; f++ {
		if u.Has(f) {
			if b.Len() > 0 {
				b.WriteByte('|')
			}
			b.WriteString(f.String())
		}
	}
	return b.String()
}
