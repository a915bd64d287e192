package pivot

import (
	"math"
	"sync"
	"time"
)

const (
	mockServoPeriod = time.Millisecond // 1kHz servo rate

	// DefaultMockRotVelocity is the rotational speed of the mock, rad/s
	DefaultMockRotVelocity = 0.5

	// DefaultMockTransZVelocity is the insertion speed of the mock, mm/s
	DefaultMockTransZVelocity = 20.
)

// MockController is a simulated pivoting mechanism.  Each axis moves toward
// the target at a constant velocity and lands on it exactly.
type MockController struct {
	Readiness

	mu        sync.Mutex
	bounds    DOFBoundaries
	boundsErr error
	pos       DOFPose
	target    DOFPose
	rotVel    float64
	transZVel float64
	period    time.Duration
	moving    bool
	stop      chan struct{}
}

// NewControllerMock returns a mock controller confined to b.  Its boundaries
// are ready if b is valid; its pose becomes ready on Initialize.
func NewControllerMock(b DOFBoundaries) *MockController {
	c := &MockController{
		rotVel:    DefaultMockRotVelocity,
		transZVel: DefaultMockTransZVelocity,
		period:    mockServoPeriod,
	}
	c.SetDOFBoundaries(b)
	return c
}

// SetDOFBoundaries replaces the boundaries of the mock.  A motion whose
// target no longer lies inside them is stopped where it is.  If the pose
// itself is left outside, the pose is no longer ready until Initialize.
func (c *MockController) SetDOFBoundaries(b DOFBoundaries) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bounds = b
	c.boundsErr = b.Validate()
	c.SetBoundariesReady(c.boundsErr == nil)
	if c.boundsErr != nil || !b.PoseInside(c.target) {
		c.halt()
		c.target = c.pos
	}
	if c.boundsErr == nil && !b.PoseInside(c.pos) {
		c.SetPoseReady(false)
	}
	return c.boundsErr
}

// SetVelocity sets the rotational (per second) and transZ (per second) speeds
func (c *MockController) SetVelocity(rot, transZ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotVel = rot
	c.transZVel = transZ
}

// Initialize homes the mock to the neutral pose, clamped into its boundaries
func (c *MockController) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.boundsErr != nil {
		return c.boundsErr
	}
	c.halt()
	c.pos = c.bounds.Clamp(DOFPose{})
	c.target = c.pos
	c.SetPoseReady(true)
	return nil
}

// SetTargetDOFPose starts a motion toward pose
func (c *MockController) SetTargetDOFPose(pose DOFPose) error {
	if !c.IsReady() {
		return ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bounds.PoseInside(pose) {
		return ErrOutOfBounds
	}
	c.target = pose
	if !c.moving {
		c.moving = true
		c.stop = make(chan struct{})
		go c.moveTo(c.stop)
	}
	return nil
}

// GetCurrentDOFPose returns the in-flight pose of the mock
func (c *MockController) GetCurrentDOFPose() (DOFPose, error) {
	if !c.PoseReady() {
		return DOFPose{}, ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos, nil
}

// GetDOFBoundaries returns the boundaries the mock was configured with
func (c *MockController) GetDOFBoundaries() (DOFBoundaries, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bounds, c.boundsErr
}

// GetTargetDOFPose returns the last accepted target
func (c *MockController) GetTargetDOFPose() (DOFPose, error) {
	if !c.PoseReady() {
		return DOFPose{}, ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, nil
}

// Moving returns true while a motion is in progress
func (c *MockController) Moving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moving
}

// Stop halts the mock where it is
func (c *MockController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halt()
	c.target = c.pos
	return nil
}

// halt must be called with mu held
func (c *MockController) halt() {
	if c.moving {
		close(c.stop)
		c.moving = false
	}
}

func (c *MockController) moveTo(stop chan struct{}) {
	tick := time.NewTicker(c.period)
	defer tick.Stop()
	dt := c.period.Seconds()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			c.mu.Lock()
			select {
			case <-stop:
				// halted while we waited for the lock
				c.mu.Unlock()
				return
			default:
			}
			if c.step(dt) {
				c.moving = false
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

// step advances pos toward target by one period of dt seconds and reports
// if the target has been reached.  mu must be held.
func (c *MockController) step(dt float64) bool {
	rot := c.rotVel * dt
	c.pos.Pitch = approach(c.pos.Pitch, c.target.Pitch, rot)
	c.pos.Yaw = approach(c.pos.Yaw, c.target.Yaw, rot)
	c.pos.Roll = approach(c.pos.Roll, c.target.Roll, rot)
	c.pos.TransZ = approach(c.pos.TransZ, c.target.TransZ, c.transZVel*dt)
	return c.pos.Equal(c.target)
}

func approach(cur, target, maxStep float64) float64 {
	d := target - cur
	if math.Abs(d) <= maxStep {
		return target
	}
	if d > 0 {
		return cur + maxStep
	}
	return cur - maxStep
}
