// Package pivot describes the motion of a laparoscope pivoting about its
// insertion point and an abstract controller which drives it.
//
// A pivoting motion is expressed as three euler angles and a depth along the
// instrument axis.  The implementation of a Controller defines the axes of
// rotation and translation, for example by the axes of the laparoscope stick
// or by the direction of the tilted camera.  Units are likewise left to the
// implementation; the drivers in this module use radians for pitch, yaw and
// roll and millimeters for transZ.
package pivot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/pivotlab/golaparo/util"
)

var (
	// ErrNotReady is generated when a controller is asked to move before both
	// its pose and boundaries are known
	ErrNotReady = errors.New("controller is not ready to pivot")

	// ErrOutOfBounds is generated when a target pose lies outside the boundaries
	ErrOutOfBounds = errors.New("requested pose violates boundaries, aborted")

	// ErrInvalidBoundaries is generated when an axis has min > max
	ErrInvalidBoundaries = errors.New("invalid boundaries")

	// ErrUnknownAxis is generated when an axis name cannot be parsed
	ErrUnknownAxis = errors.New("unknown axis")
)

// Axis is one degree of freedom of a pivoting motion
type Axis int

const (
	// Pitch is the rotation about the x axis (vertical movement in the image)
	Pitch Axis = iota
	// Yaw is the rotation about the y axis (horizontal movement in the image)
	Yaw
	// Roll is the rotation about the z axis (rotational movement in the image)
	Roll
	// TransZ is the translation along the z axis (zooming the image)
	TransZ
)

// Axes lists every degree of freedom in pose order
var Axes = []Axis{Pitch, Yaw, Roll, TransZ}

func (a Axis) String() string {
	switch a {
	case Pitch:
		return "pitch"
	case Yaw:
		return "yaw"
	case Roll:
		return "roll"
	case TransZ:
		return "transZ"
	default:
		return "Axis(" + strconv.Itoa(int(a)) + ")"
	}
}

// ParseAxis converts a case-insensitive axis name to an Axis.
// "z" is accepted as an alias for transZ.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "pitch":
		return Pitch, nil
	case "yaw":
		return Yaw, nil
	case "roll":
		return Roll, nil
	case "transz", "z":
		return TransZ, nil
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownAxis, s)
}

// DOFPose is a pivoting movement expressed by euler angles and entrance depth
type DOFPose struct {
	Pitch  float64 `json:"pitch" yaml:"Pitch"`
	Yaw    float64 `json:"yaw" yaml:"Yaw"`
	Roll   float64 `json:"roll" yaml:"Roll"`
	TransZ float64 `json:"transZ" yaml:"TransZ"`
}

// String returns a human readable rendering of the pose
func (p DOFPose) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return "pitch:" + f(p.Pitch) +
		" yaw:" + f(p.Yaw) +
		" roll:" + f(p.Roll) +
		" transZ:" + f(p.TransZ)
}

// Equal compares two poses exactly, by value
func (p DOFPose) Equal(other DOFPose) bool {
	return p.Pitch == other.Pitch &&
		p.Yaw == other.Yaw &&
		p.Roll == other.Roll &&
		p.TransZ == other.TransZ
}

// NotEqual is the negation of Equal
func (p DOFPose) NotEqual(other DOFPose) bool {
	return !p.Equal(other)
}

// CloseTo compares two poses with tolerance.  The rotational values are
// compared by the euclidean norm of their differences against rotEpsilon,
// transZ by its absolute difference against transZEpsilon.  Both must be
// strictly below their epsilon.
func (p DOFPose) CloseTo(other DOFPose, rotEpsilon, transZEpsilon float64) bool {
	rotDist := floats.Distance(p.rotations(), other.rotations(), 2)
	transZDist := p.TransZ - other.TransZ
	if transZDist < 0 {
		transZDist = -transZDist
	}
	return rotDist < rotEpsilon && transZDist < transZEpsilon
}

func (p DOFPose) rotations() []float64 {
	return []float64{p.Pitch, p.Yaw, p.Roll}
}

// Axis returns the value of a single degree of freedom
func (p DOFPose) Axis(a Axis) float64 {
	switch a {
	case Pitch:
		return p.Pitch
	case Yaw:
		return p.Yaw
	case Roll:
		return p.Roll
	case TransZ:
		return p.TransZ
	}
	return 0
}

// Add returns the component-wise sum of two poses, used for relative moves
func (p DOFPose) Add(other DOFPose) DOFPose {
	return DOFPose{
		Pitch:  p.Pitch + other.Pitch,
		Yaw:    p.Yaw + other.Yaw,
		Roll:   p.Roll + other.Roll,
		TransZ: p.TransZ + other.TransZ,
	}
}

// DOFBoundaries are the limits the pivoting can move to at max/min
type DOFBoundaries struct {
	PitchMax  float64 `json:"pitchMax" yaml:"PitchMax"`
	PitchMin  float64 `json:"pitchMin" yaml:"PitchMin"`
	YawMax    float64 `json:"yawMax" yaml:"YawMax"`
	YawMin    float64 `json:"yawMin" yaml:"YawMin"`
	RollMax   float64 `json:"rollMax" yaml:"RollMax"`
	RollMin   float64 `json:"rollMin" yaml:"RollMin"`
	TransZMax float64 `json:"transZMax" yaml:"TransZMax"`
	TransZMin float64 `json:"transZMin" yaml:"TransZMin"`
}

// PoseInside returns true if every value of pose lies within the closed
// interval of its axis
func (b DOFBoundaries) PoseInside(pose DOFPose) bool {
	return pose.Pitch >= b.PitchMin &&
		pose.Pitch <= b.PitchMax &&
		pose.Yaw >= b.YawMin &&
		pose.Yaw <= b.YawMax &&
		pose.Roll >= b.RollMin &&
		pose.Roll <= b.RollMax &&
		pose.TransZ >= b.TransZMin &&
		pose.TransZ <= b.TransZMax
}

// Limit returns the interval of a single axis
func (b DOFBoundaries) Limit(a Axis) util.Limiter {
	switch a {
	case Pitch:
		return util.Limiter{Min: b.PitchMin, Max: b.PitchMax}
	case Yaw:
		return util.Limiter{Min: b.YawMin, Max: b.YawMax}
	case Roll:
		return util.Limiter{Min: b.RollMin, Max: b.RollMax}
	case TransZ:
		return util.Limiter{Min: b.TransZMin, Max: b.TransZMax}
	}
	return util.Limiter{}
}

// Validate returns an error wrapping ErrInvalidBoundaries that names every
// axis whose min exceeds its max, or nil
func (b DOFBoundaries) Validate() error {
	var bad []string
	for _, a := range Axes {
		lim := b.Limit(a)
		if !lim.Valid() {
			bad = append(bad, fmt.Sprintf("%s min %g > max %g", a, lim.Min, lim.Max))
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidBoundaries, strings.Join(bad, ", "))
}

// Clamp returns the pose with every axis limited to the boundaries.
// The result is only meaningful if Validate returns nil.
func (b DOFBoundaries) Clamp(pose DOFPose) DOFPose {
	return DOFPose{
		Pitch:  util.Clamp(pose.Pitch, b.PitchMin, b.PitchMax),
		Yaw:    util.Clamp(pose.Yaw, b.YawMin, b.YawMax),
		Roll:   util.Clamp(pose.Roll, b.RollMin, b.RollMax),
		TransZ: util.Clamp(pose.TransZ, b.TransZMin, b.TransZMax),
	}
}
