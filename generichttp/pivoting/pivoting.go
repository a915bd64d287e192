// Package pivoting provides an HTTP interface to pivot controllers
package pivoting

/*
Routes for the optional capabilities of a controller (Initializer, Stopper,
TargetQueryer) are bound only if the concrete type implements them.
*/
import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/pivotlab/golaparo/generichttp"
	"github.com/pivotlab/golaparo/pivot"
)

const (
	// DefaultRotEpsilon is the rotational tolerance of /inposition, radians
	DefaultRotEpsilon = 1e-3

	// DefaultTransZEpsilon is the depth tolerance of /inposition, millimeters
	DefaultTransZEpsilon = 1e-2
)

// statusFor maps controller errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pivot.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, pivot.ErrOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, pivot.ErrUnknownAxis):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func fail(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func popRelative(r *http.Request) (bool, error) {
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		relative = "false"
	}
	return strconv.ParseBool(relative)
}

// resolveTarget decodes the pose in the body of r, shifting it by the
// current pose of c if the move is relative
func resolveTarget(c pivot.Controller, r *http.Request) (pivot.DOFPose, int, error) {
	var pose pivot.DOFPose
	relative, err := popRelative(r)
	if err != nil {
		return pose, http.StatusBadRequest, err
	}
	err = json.NewDecoder(r.Body).Decode(&pose)
	if err != nil {
		return pose, http.StatusBadRequest, err
	}
	if relative {
		curr, err := c.GetCurrentDOFPose()
		if err != nil {
			return pose, statusFor(err), err
		}
		pose = curr.Add(pose)
	}
	return pose, http.StatusOK, nil
}

// GetPose returns an HTTP handler func that gets the current pose
func GetPose(c pivot.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pose, err := c.GetCurrentDOFPose()
		if err != nil {
			fail(w, err)
			return
		}
		generichttp.RespondValue(w, r, pose)
	}
}

// SetPose returns an HTTP handler func that sets the target pose, absolute
// or relative to the current pose based on the relative query parameter
func SetPose(c pivot.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		pose, code, err := resolveTarget(c, r)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		err = c.SetTargetDOFPose(pose)
		if err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBoundaries returns an HTTP handler func that gets the boundaries
func GetBoundaries(c pivot.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := c.GetDOFBoundaries()
		if err != nil {
			fail(w, err)
			return
		}
		generichttp.RespondJSON(w, b)
	}
}

// GetAxisPos returns an HTTP handler func that gets the position of one axis
func GetAxisPos(c pivot.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, err := pivot.ParseAxis(chi.URLParam(r, "axis"))
		if err != nil {
			fail(w, err)
			return
		}
		pose, err := c.GetCurrentDOFPose()
		if err != nil {
			fail(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: pose.Axis(axis)}
		hp.EncodeAndRespond(w, r)
	}
}

// GetAxisLimits returns an HTTP handler func that gets the limits of one axis
func GetAxisLimits(c pivot.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		axis, err := pivot.ParseAxis(chi.URLParam(r, "axis"))
		if err != nil {
			fail(w, err)
			return
		}
		b, err := c.GetDOFBoundaries()
		if err != nil {
			fail(w, err)
			return
		}
		generichttp.RespondJSON(w, b.Limit(axis))
	}
}

// HTTPPivot adds the routes every controller supports to the route table
func HTTPPivot(c pivot.Controller, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/pose"}] = GetPose(c)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/pose"}] = SetPose(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/boundaries"}] = GetBoundaries(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/ready"}] = generichttp.GetBool(func() (bool, error) {
		return c.IsReady(), nil
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetAxisPos(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = GetAxisLimits(c)
}

// Initialize returns an HTTP handler func that initializes the controller
func Initialize(i pivot.Initializer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := i.Initialize()
		if err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Stop returns an HTTP handler func that stops the controller
func Stop(s pivot.Stopper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.Stop()
		if err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetTarget returns an HTTP handler func that gets the last target
func GetTarget(t pivot.TargetQueryer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pose, err := t.GetTargetDOFPose()
		if err != nil {
			fail(w, err)
			return
		}
		generichttp.RespondValue(w, r, pose)
	}
}

func popEpsilon(r *http.Request, key string, dflt float64) (float64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return dflt, nil
	}
	return strconv.ParseFloat(s, 64)
}

// GetInPosition returns an HTTP handler func that reports if the current
// pose is close to the target.  The tolerances are given by the rot and
// transz query parameters.
func GetInPosition(c pivot.Controller, t pivot.TargetQueryer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rotEps, err := popEpsilon(r, "rot", DefaultRotEpsilon)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		zEps, err := popEpsilon(r, "transz", DefaultTransZEpsilon)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		curr, err := c.GetCurrentDOFPose()
		if err != nil {
			fail(w, err)
			return
		}
		tgt, err := t.GetTargetDOFPose()
		if err != nil {
			fail(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: curr.CloseTo(tgt, rotEps, zEps)}
		hp.EncodeAndRespond(w, r)
	}
}

// HTTPController wraps a pivot controller with HTTP
type HTTPController struct {
	pivot.Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPController(c pivot.Controller) HTTPController {
	w := HTTPController{Controller: c}
	rt := generichttp.RouteTable{}
	HTTPPivot(c, rt)
	if i, ok := c.(pivot.Initializer); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/initialize"}] = Initialize(i)
	}
	if s, ok := c.(pivot.Stopper); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}] = Stop(s)
	}
	if t, ok := c.(pivot.TargetQueryer); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/target"}] = GetTarget(t)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/inposition"}] = GetInPosition(c, t)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPController) RT() generichttp.RouteTable {
	return h.RouteTable
}
