// Package pivotbox enables working with pivot motion boxes over TCP or RS232.
//
// The box speaks a carriage return terminated ASCII protocol:
//
//	POS?                 -> <pitch> <yaw> <roll> <transZ>
//	LIM?                 -> <pitchMin> <pitchMax> <yawMin> <yawMax> <rollMin> <rollMax> <transZMin> <transZMax>
//	MOV <p> <y> <r> <z>  -> OK
//	HOM                  -> OK
//	STP                  -> OK
//
// Any command may instead be answered with ERR <code> <description>.
// Angles are in radians and transZ in millimeters.
//
// MOV never reaches the box unchecked: Raw routes it through
// SetTargetDOFPose, which validates it against the boundaries.
package pivotbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pivotlab/golaparo/comm"
	"github.com/pivotlab/golaparo/pivot"
)

const (
	// idle connections are closed after this long
	poolTimeout = 30 * time.Second

	ack = "OK"
)

var (
	// ErrMultipleCommands is generated when a raw command would carry more
	// than one message to the box
	ErrMultipleCommands = errors.New("raw command may not contain line terminators")

	// ErrBadMove is generated when a MOV command is not four numbers
	ErrBadMove = errors.New("MOV requires <pitch> <yaw> <roll> <transZ>")
)

// DeviceErr is an error reported by the pivot box
type DeviceErr struct {
	Code int
	Msg  string
}

func (e DeviceErr) Error() string {
	return fmt.Sprintf("pivot box error %d: %s", e.Code, e.Msg)
}

// ReplyErr is generated when a reply cannot be understood
type ReplyErr struct {
	Cmd   string
	Reply string
}

func (e ReplyErr) Error() string {
	return fmt.Sprintf("unexpected reply %q to %s", e.Reply, e.Cmd)
}

// Controller is a pivot.Controller backed by a pivot box
type Controller struct {
	pivot.Readiness

	pool    *comm.Pool
	limiter *rate.Limiter

	mu     sync.Mutex
	bounds pivot.DOFBoundaries
	target pivot.DOFPose
}

// New returns a controller for the box described by cfg, sending at most
// cmdsPerSec commands per second.  cmdsPerSec <= 0 disables the limit.
func New(cfg comm.Config, cmdsPerSec float64) *Controller {
	maker := func() (io.ReadWriteCloser, error) {
		return comm.Dial(cfg)
	}
	return NewWithPool(comm.NewPool(1, poolTimeout, maker), cmdsPerSec)
}

// NewWithPool is New with a caller supplied connection pool
func NewWithPool(pool *comm.Pool, cmdsPerSec float64) *Controller {
	lim := rate.Inf
	if cmdsPerSec > 0 {
		lim = rate.Limit(cmdsPerSec)
	}
	return &Controller{pool: pool, limiter: rate.NewLimiter(lim, 1)}
}

// ParseMove recognizes a MOV command and returns its pose.  isMove is false
// for any other command.  Commands holding more than one message are refused.
func ParseMove(cmd string) (pose pivot.DOFPose, isMove bool, err error) {
	if strings.ContainsAny(cmd, "\r\n") {
		return pose, false, ErrMultipleCommands
	}
	fields := strings.Fields(cmd)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "MOV") {
		return pose, false, nil
	}
	if len(fields) != 5 {
		return pose, true, fmt.Errorf("%w, got %q", ErrBadMove, cmd)
	}
	v := make([]float64, 4)
	for i := range v {
		v[i], err = strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return pose, true, fmt.Errorf("%w, got %q", ErrBadMove, cmd)
		}
	}
	return pivot.DOFPose{Pitch: v[0], Yaw: v[1], Roll: v[2], TransZ: v[3]}, true, nil
}

// ParseMove lets middleware recognize the motion commands of the box
func (c *Controller) ParseMove(cmd string) (pivot.DOFPose, bool, error) {
	return ParseMove(cmd)
}

// Raw sends a command to the box and returns its reply.
// ERR replies are returned as a DeviceErr.  MOV commands are checked by
// SetTargetDOFPose before they are sent.
func (c *Controller) Raw(cmd string) (string, error) {
	pose, isMove, err := ParseMove(cmd)
	if err != nil {
		return "", err
	}
	if isMove {
		if err := c.SetTargetDOFPose(pose); err != nil {
			return "", err
		}
		return ack, nil
	}
	return c.send(cmd)
}

func (c *Controller) send(cmd string) (string, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return "", err
	}
	conn, err := c.pool.Get()
	if err != nil {
		return "", err
	}
	resp, err := comm.SendRecv(conn, []byte(cmd))
	if err != nil {
		c.pool.Destroy(conn)
		return "", err
	}
	c.pool.Put(conn)
	reply := strings.TrimSpace(string(resp))
	if strings.HasPrefix(reply, "ERR") {
		return "", parseDeviceErr(reply)
	}
	return reply, nil
}

func parseDeviceErr(reply string) error {
	fields := strings.Fields(reply)
	if len(fields) < 2 {
		return DeviceErr{Code: -1, Msg: reply}
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return DeviceErr{Code: -1, Msg: strings.Join(fields[1:], " ")}
	}
	return DeviceErr{Code: code, Msg: strings.Join(fields[2:], " ")}
}

// expectAck sends cmd and requires an OK
func (c *Controller) expectAck(cmd string) error {
	reply, err := c.send(cmd)
	if err != nil {
		return err
	}
	if reply != ack {
		return ReplyErr{Cmd: cmd, Reply: reply}
	}
	return nil
}

func (c *Controller) queryFloats(cmd string, n int) ([]float64, error) {
	reply, err := c.send(cmd)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(reply)
	if len(fields) != n {
		return nil, ReplyErr{Cmd: cmd, Reply: reply}
	}
	out := make([]float64, n)
	for i, f := range fields {
		out[i], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, ReplyErr{Cmd: cmd, Reply: reply}
		}
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Initialize homes the box and loads its boundaries and pose
func (c *Controller) Initialize() error {
	if err := c.expectAck("HOM"); err != nil {
		c.SetPoseReady(false)
		return err
	}
	if _, err := c.GetDOFBoundaries(); err != nil {
		return err
	}
	pose, err := c.GetCurrentDOFPose()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.target = pose
	c.mu.Unlock()
	return nil
}

// GetDOFBoundaries queries the boundaries from the box.  A successful
// query marks the boundaries ready, a failed one clears them.
func (c *Controller) GetDOFBoundaries() (pivot.DOFBoundaries, error) {
	v, err := c.queryFloats("LIM?", 8)
	if err != nil {
		c.SetBoundariesReady(false)
		return pivot.DOFBoundaries{}, err
	}
	b := pivot.DOFBoundaries{
		PitchMin: v[0], PitchMax: v[1],
		YawMin: v[2], YawMax: v[3],
		RollMin: v[4], RollMax: v[5],
		TransZMin: v[6], TransZMax: v[7],
	}
	if err := b.Validate(); err != nil {
		c.SetBoundariesReady(false)
		return b, err
	}
	c.mu.Lock()
	wasReady := c.BoundariesReady()
	c.bounds = b
	c.SetBoundariesReady(true)
	c.mu.Unlock()
	if !wasReady {
		log.Printf("pivot box boundaries loaded: %+v", b)
	}
	return b, nil
}

// GetCurrentDOFPose queries the in-flight pose from the box.  A successful
// query marks the pose ready, a failed one clears it.
func (c *Controller) GetCurrentDOFPose() (pivot.DOFPose, error) {
	v, err := c.queryFloats("POS?", 4)
	if err != nil {
		c.SetPoseReady(false)
		return pivot.DOFPose{}, err
	}
	c.SetPoseReady(true)
	return pivot.DOFPose{Pitch: v[0], Yaw: v[1], Roll: v[2], TransZ: v[3]}, nil
}

// SetTargetDOFPose commands a move after checking the pose against the
// boundaries last read from the box
func (c *Controller) SetTargetDOFPose(pose pivot.DOFPose) error {
	if !c.IsReady() {
		return pivot.ErrNotReady
	}
	c.mu.Lock()
	inside := c.bounds.PoseInside(pose)
	c.mu.Unlock()
	if !inside {
		return pivot.ErrOutOfBounds
	}
	cmd := strings.Join([]string{"MOV",
		formatFloat(pose.Pitch),
		formatFloat(pose.Yaw),
		formatFloat(pose.Roll),
		formatFloat(pose.TransZ)}, " ")
	if err := c.expectAck(cmd); err != nil {
		return err
	}
	c.mu.Lock()
	c.target = pose
	c.mu.Unlock()
	return nil
}

// GetTargetDOFPose returns the last target accepted by the box
func (c *Controller) GetTargetDOFPose() (pivot.DOFPose, error) {
	if !c.PoseReady() {
		return pivot.DOFPose{}, pivot.ErrNotReady
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, nil
}

// Stop halts the box and makes the stopped pose the target
func (c *Controller) Stop() error {
	if err := c.expectAck("STP"); err != nil {
		return err
	}
	pose, err := c.GetCurrentDOFPose()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.target = pose
	c.mu.Unlock()
	return nil
}
