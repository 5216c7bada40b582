// Package birth places candidate robots in the world.
package birth

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"tolrun/internal/robot"
)

const (
	// DefaultRadius is the distance from the origin at which robots spawn.
	DefaultRadius = 2.0
	// DefaultDropHeight is the clearance between a robot's lowest point and
	// the ground when it is inserted.
	DefaultDropHeight = 0.2
)

// Inserter submits an insert request and returns once the world accepted it.
type Inserter interface {
	Insert(ctx context.Context, tree robot.Tree, pose robot.Pose, parents []string) (*robot.Insertion, error)
}

// Birther computes spawn poses on a circle around the origin and inserts
// candidates there. Robots with close angles may overlap; nothing keeps them
// apart.
type Birther struct {
	Radius     float64
	DropHeight float64

	rng    *rand.Rand
	logger *zap.Logger
}

// New returns a Birther drawing angles from rng.
func New(rng *rand.Rand, logger *zap.Logger) *Birther {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Birther{
		Radius:     DefaultRadius,
		DropHeight: DefaultDropHeight,
		rng:        rng,
		logger:     logger,
	}
}

// Pose samples a spawn pose for a robot with the given bounding box.
func (b *Birther) Pose(bbox robot.BoundingBox) robot.Pose {
	angle := b.rng.Float64() * 2 * math.Pi
	return robot.NewPose(robot.Vector3{
		X: b.Radius * math.Cos(angle),
		Y: b.Radius * math.Sin(angle),
		Z: -bbox.Min.Z + b.DropHeight,
	})
}

// Birth inserts tree at a freshly sampled pose. It returns after the world
// acknowledged the request; wait on the returned insertion for the robot.
func (b *Birther) Birth(ctx context.Context, w Inserter, tree robot.Tree, bbox robot.BoundingBox, parents []string) (*robot.Insertion, error) {
	pose := b.Pose(bbox)
	b.logger.Debug("birth",
		zap.String("tree", tree.ID),
		zap.Float64("x", pose.Position.X),
		zap.Float64("y", pose.Position.Y),
		zap.Float64("z", pose.Position.Z),
		zap.Strings("parents", parents))

	ins, err := w.Insert(ctx, tree, pose, parents)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", tree.ID, err)
	}
	return ins, nil
}
