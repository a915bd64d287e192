package pivot

import "sync"

// Controller describes the set of methods a pivoting robot must provide.
//
// A nil error is success.  On a non-nil error the state of the controller is
// unspecified and the caller may re-query GetCurrentDOFPose or IsReady.
type Controller interface {
	// SetTargetDOFPose sets the pose the robot is supposed to move to.
	// Implementations validate the pose against their boundaries.
	SetTargetDOFPose(DOFPose) error

	// GetCurrentDOFPose gets the pose the robot is currently (inflight) in
	GetCurrentDOFPose() (DOFPose, error)

	// GetDOFBoundaries gets the configured/determined boundaries the robot can move in
	GetDOFBoundaries() (DOFBoundaries, error)

	// IsReady returns true if the controller is ready to pivot
	IsReady() bool
}

// Initializer is a controller which may be initialized (homed)
type Initializer interface {
	// Initialize engages the controller and establishes the current pose
	Initialize() error
}

// Stopper is a controller which may stop an in-flight motion
type Stopper interface {
	// Stop halts motion at the current pose
	Stop() error
}

// TargetQueryer is a controller which remembers its last target
type TargetQueryer interface {
	// GetTargetDOFPose returns the most recently accepted target
	GetTargetDOFPose() (DOFPose, error)
}

// Readiness holds the two flags that make a controller ready to pivot.
// It is meant to be embedded by Controller implementations, which alone
// should set the flags.  The zero value is not ready.
type Readiness struct {
	mu              sync.RWMutex
	poseReady       bool
	boundariesReady bool
}

// SetPoseReady marks whether the current pose is known
func (r *Readiness) SetPoseReady(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poseReady = b
}

// SetBoundariesReady marks whether the boundaries are known
func (r *Readiness) SetBoundariesReady(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boundariesReady = b
}

// PoseReady returns true if the current pose is known
func (r *Readiness) PoseReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.poseReady
}

// BoundariesReady returns true if the boundaries are known
func (r *Readiness) BoundariesReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.boundariesReady
}

// IsReady returns true if both the pose and the boundaries are known
func (r *Readiness) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.poseReady && r.boundariesReady
}
