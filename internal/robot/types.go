// Package robot holds the data exchanged with the world about candidate
// robots: their opaque trees, bounding boxes, spawn poses and the handles of
// robots the world has inserted.
package robot

import (
	"encoding/json"
	"math"

	"tolrun/internal/simtime"
)

// Vector3 is a point or direction in world coordinates.
type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Norm returns the Euclidean length of v.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Quaternion is an orientation; the zero value is treated as identity.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity is the no-rotation orientation.
var Identity = Quaternion{W: 1}

// Pose is a position with an orientation.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// NewPose returns a pose at position with identity orientation.
func NewPose(position Vector3) Pose {
	return Pose{Position: position, Orientation: Identity}
}

// BoundingBox is the axis aligned extent of a candidate robot.
type BoundingBox struct {
	Min Vector3 `json:"min"`
	Max Vector3 `json:"max"`
}

// Tree is the structural description of one robot (body plus brain). The
// controller never looks inside Body or Brain; they are forwarded to the
// world as-is.
type Tree struct {
	ID    string          `json:"id"`
	Body  json.RawMessage `json:"body,omitempty"`
	Brain json.RawMessage `json:"brain,omitempty"`
}

// Robot is the world's handle for an inserted robot.
type Robot struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	TreeID    string       `json:"tree_id,omitempty"`
	Pose      Pose         `json:"pose"`
	Parents   []string     `json:"parents,omitempty"`
	BirthTime simtime.Time `json:"birth_time"`
}
