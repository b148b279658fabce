package rig

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rotation is a per-axis delta in degrees.
type Rotation struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Pose is a named table of per-part rotation deltas.
type Pose struct {
	Name   string
	Deltas map[Part]Rotation
}

// Built-in pose names.
const (
	PoseDefault = "Default"
	PoseWave    = "Wave"
	PoseHero    = "Hero"
	PoseRelaxed = "Relaxed"
	PoseSitting = "Sitting"
)

// Catalog is a set of poses addressed by case-insensitive name.
type Catalog struct {
	poses map[string]Pose
	order []string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{poses: make(map[string]Pose)}
}

// DefaultCatalog holds the built-in poses. Deltas are expressed in the
// model's export frame, where the figure faces -Z and its left is at -X;
// wrappers nest along Hierarchy so a child delta is relative to its parent.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Add(Pose{Name: PoseDefault})
	c.Add(Pose{Name: PoseWave, Deltas: map[Part]Rotation{
		RightUpperArm: {Z: 150},
		RightLowerArm: {Z: 25},
		Head:          {Y: -10},
	}})
	c.Add(Pose{Name: PoseHero, Deltas: map[Part]Rotation{
		Head:          {X: 8},
		LeftUpperArm:  {Z: -30},
		LeftLowerArm:  {Z: 60},
		RightUpperArm: {Z: 30},
		RightLowerArm: {Z: -60},
		LeftUpperLeg:  {Z: -8},
		RightUpperLeg: {Z: 8},
	}})
	c.Add(Pose{Name: PoseRelaxed, Deltas: map[Part]Rotation{
		Head:          {X: -5},
		LeftUpperArm:  {Z: -8},
		LeftLowerArm:  {X: 10},
		RightUpperArm: {Z: 8},
		RightLowerArm: {X: 10},
	}})
	c.Add(Pose{Name: PoseSitting, Deltas: map[Part]Rotation{
		LeftUpperLeg:  {X: 90},
		RightUpperLeg: {X: 90},
		LeftLowerLeg:  {X: -90},
		RightLowerLeg: {X: -90},
		LeftUpperArm:  {X: 20},
		RightUpperArm: {X: 20},
	}})
	return c
}

// Add inserts or replaces a pose.
func (c *Catalog) Add(p Pose) {
	key := strings.ToLower(p.Name)
	if _, exists := c.poses[key]; !exists {
		c.order = append(c.order, p.Name)
	}
	c.poses[key] = p
}

// Get looks a pose up by name.
func (c *Catalog) Get(name string) (Pose, bool) {
	p, ok := c.poses[strings.ToLower(name)]
	return p, ok
}

// Names lists poses in insertion order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// poseFile is the on-disk layout of custom poses:
//
//	poses:
//	  Salute:
//	    RightUpperArm: {z: 120}
type poseFile struct {
	Poses map[string]map[string]Rotation `yaml:"poses"`
}

// LoadPoses merges the poses defined in a YAML or JSON file into c.
func LoadPoses(path string, c *Catalog) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("rig: read %s: %w", path, err)
	}
	return ParsePoses(data, c)
}

// ParsePoses merges poses from YAML or JSON bytes into c.
func ParsePoses(data []byte, c *Catalog) error {
	var f poseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("rig: parse poses: %w", err)
	}
	names := make([]string, 0, len(f.Poses))
	for name := range f.Poses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pose := Pose{Name: name, Deltas: make(map[Part]Rotation)}
		for partName, rot := range f.Poses[name] {
			part, ok := ParsePart(partName)
			if !ok {
				return fmt.Errorf("rig: pose %s: unknown part %q", name, partName)
			}
			pose.Deltas[part] = rot
		}
		c.Add(pose)
	}
	return nil
}
