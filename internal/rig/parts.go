// Package rig recognizes R15 body parts in a reconstructed avatar, inserts
// pivot wrappers around them and applies named poses.
package rig

import "strings"

// Part is a canonical R15 body-part name.
type Part string

const (
	Head          Part = "Head"
	UpperTorso    Part = "UpperTorso"
	LowerTorso    Part = "LowerTorso"
	LeftUpperArm  Part = "LeftUpperArm"
	LeftLowerArm  Part = "LeftLowerArm"
	LeftHand      Part = "LeftHand"
	RightUpperArm Part = "RightUpperArm"
	RightLowerArm Part = "RightLowerArm"
	RightHand     Part = "RightHand"
	LeftUpperLeg  Part = "LeftUpperLeg"
	LeftLowerLeg  Part = "LeftLowerLeg"
	LeftFoot      Part = "LeftFoot"
	RightUpperLeg Part = "RightUpperLeg"
	RightLowerLeg Part = "RightLowerLeg"
	RightFoot     Part = "RightFoot"
)

// Canonical lists the fifteen parts in match order.
var Canonical = []Part{
	Head, UpperTorso, LowerTorso,
	LeftUpperArm, LeftLowerArm, LeftHand,
	RightUpperArm, RightLowerArm, RightHand,
	LeftUpperLeg, LeftLowerLeg, LeftFoot,
	RightUpperLeg, RightLowerLeg, RightFoot,
}

// PlayerGroups maps the export's "PlayerN" group names to parts.
var PlayerGroups = map[string]Part{
	"Player1":  Head,
	"Player2":  UpperTorso,
	"Player3":  LowerTorso,
	"Player4":  LeftUpperArm,
	"Player5":  LeftLowerArm,
	"Player6":  LeftHand,
	"Player7":  RightUpperArm,
	"Player8":  RightLowerArm,
	"Player9":  RightHand,
	"Player10": LeftUpperLeg,
	"Player11": LeftLowerLeg,
	"Player12": LeftFoot,
	"Player13": RightUpperLeg,
	"Player14": RightLowerLeg,
	"Player15": RightFoot,
}

// Hierarchy is the fixed limb tree, child -> parent, rooted at LowerTorso.
var Hierarchy = map[Part]Part{
	UpperTorso:    LowerTorso,
	Head:          UpperTorso,
	LeftUpperArm:  UpperTorso,
	LeftLowerArm:  LeftUpperArm,
	LeftHand:      LeftLowerArm,
	RightUpperArm: UpperTorso,
	RightLowerArm: RightUpperArm,
	RightHand:     RightLowerArm,
	LeftUpperLeg:  LowerTorso,
	LeftLowerLeg:  LeftUpperLeg,
	LeftFoot:      LeftLowerLeg,
	RightUpperLeg: LowerTorso,
	RightLowerLeg: RightUpperLeg,
	RightFoot:     RightLowerLeg,
}

// Root is the part every chain in Hierarchy ends at.
const Root = LowerTorso

// Parent returns the part's parent in Hierarchy.
func (p Part) Parent() (Part, bool) {
	parent, ok := Hierarchy[p]
	return parent, ok
}

// Valid reports whether p is one of the canonical parts.
func (p Part) Valid() bool {
	for _, c := range Canonical {
		if c == p {
			return true
		}
	}
	return false
}

// ParsePart matches a canonical name case-insensitively.
func ParsePart(s string) (Part, bool) {
	for _, c := range Canonical {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// Kind groups parts by pivot rule.
type Kind int

const (
	KindTorso Kind = iota
	KindHead
	KindArm
	KindLeg
)

// Kind classifies p: arms and hands, legs and feet, the head, or torso.
func (p Part) Kind() Kind {
	s := string(p)
	switch {
	case p == Head:
		return KindHead
	case strings.Contains(s, "Arm") || strings.Contains(s, "Hand"):
		return KindArm
	case strings.Contains(s, "Leg") || strings.Contains(s, "Foot"):
		return KindLeg
	}
	return KindTorso
}

// IsLeft reports whether p belongs to the figure's left side.
func (p Part) IsLeft() bool { return strings.HasPrefix(string(p), "Left") }

// IsRight reports whether p belongs to the figure's right side.
func (p Part) IsRight() bool { return strings.HasPrefix(string(p), "Right") }
