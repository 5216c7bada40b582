// Package protocol defines the JSON envelope spoken between the controller
// and a world over a websocket connection.
//
// Every frame is an Envelope. Requests from the controller carry an ID that
// the world echoes in its ack, result, error and inserted replies. Time
// updates are unsolicited and carry no ID.
package protocol

import (
	"encoding/json"

	"tolrun/internal/robot"
	"tolrun/internal/simtime"
)

// Version is the protocol revision sent in Hello.
const Version = 1

// Controller to world.
const (
	MsgHello    = "hello"
	MsgPause    = "pause"
	MsgInsert   = "insert"
	MsgGenerate = "generate"
)

// World to controller.
const (
	MsgWelcome  = "welcome"
	MsgTime     = "time"
	MsgAck      = "ack"
	MsgResult   = "result"
	MsgInserted = "inserted"
	MsgError    = "error"
)

// Envelope wraps every frame on the wire.
type Envelope struct {
	T  string          `json:"t"`
	ID string          `json:"id,omitempty"`
	P  json.RawMessage `json:"p,omitempty"`
}

// WorldParams are the world creation settings sent during the handshake.
type WorldParams struct {
	MaxLifetime         float64    `json:"max_lifetime" yaml:"max_lifetime"`
	InitialAgeMu        float64    `json:"initial_age_mu" yaml:"initial_age_mu"`
	InitialAgeSigma     float64    `json:"initial_age_sigma" yaml:"initial_age_sigma"`
	AgeCutoff           float64    `json:"age_cutoff,omitempty" yaml:"age_cutoff"`
	EnableLightSensor   bool       `json:"enable_light_sensor" yaml:"enable_light_sensor"`
	MinParts            int        `json:"min_parts,omitempty" yaml:"min_parts"`
	MaxParts            int        `json:"max_parts,omitempty" yaml:"max_parts"`
	ArenaSize           [2]float64 `json:"arena_size,omitempty" yaml:"arena_size"`
	PoseUpdateFrequency int        `json:"pose_update_frequency,omitempty" yaml:"pose_update_frequency"`
}

type Hello struct {
	V      int         `json:"v"`
	Params WorldParams `json:"params"`
}

type Welcome struct {
	Time   simtime.Time `json:"time"`
	Paused bool         `json:"paused"`
}

type Pause struct {
	Paused bool `json:"paused"`
}

type Insert struct {
	Tree    robot.Tree `json:"tree"`
	Pose    robot.Pose `json:"pose"`
	Parents []string   `json:"parents,omitempty"`
}

type Generate struct {
	N int `json:"n"`
}

// Population is the result of a Generate request. Trees and BBoxes are
// parallel slices.
type Population struct {
	Trees  []robot.Tree        `json:"trees"`
	BBoxes []robot.BoundingBox `json:"bboxes"`
}

type TimeUpdate struct {
	Time simtime.Time `json:"time"`
}

type Inserted struct {
	Robot robot.Robot `json:"robot"`
}

type Error struct {
	Message string `json:"message"`
}
