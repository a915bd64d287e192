package pivoting

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pivotlab/golaparo/generichttp"
	"github.com/pivotlab/golaparo/pivot"
)

var (
	errServerBounds = errors.New("requested pose violates server boundaries, aborted")

	errRawUnguarded = errors.New("raw commands cannot be checked against server boundaries for this controller")
)

// MoveParser is implemented by controllers with a raw interface that can
// recognize their own motion commands
type MoveParser interface {
	// ParseMove returns the target of cmd; isMove is false if cmd does not move
	ParseMove(cmd string) (pose pivot.DOFPose, isMove bool, err error)
}

// BoundaryMiddleware imposes server-side boundaries on motion, on top of
// whatever the controller enforces itself
type BoundaryMiddleware struct {
	// Boundaries contains the server imposed limits on the controller
	Boundaries pivot.DOFBoundaries

	// Ctl is a reference to the controller, used to resolve relative moves
	Ctl pivot.Controller
}

// Check verifies if a POST to /pose or /raw would leave the boundaries, and
// if it would, responds with StatusBadRequest.  Otherwise, flows control to
// the next handler.
//
// A pose is resolved to an absolute target exactly once, here; the next
// handler receives that target with the relative flag removed.  Raw commands
// are only let through if the controller is a MoveParser.
func (b *BoundaryMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/pose"):
			b.checkPose(next, w, r)
		case strings.HasSuffix(r.URL.Path, "/raw"):
			b.checkRaw(next, w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (b *BoundaryMiddleware) checkPose(next http.Handler, w http.ResponseWriter, r *http.Request) {
	pose, code, err := resolveTarget(b.Ctl, r)
	r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), code)
		return
	}
	if !b.Boundaries.PoseInside(pose) {
		http.Error(w, errServerBounds.Error(), http.StatusBadRequest)
		return
	}
	body, err := json.Marshal(pose)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	abs := r.Clone(r.Context())
	q := abs.URL.Query()
	q.Del("relative")
	abs.URL.RawQuery = q.Encode()
	abs.Body = io.NopCloser(bytes.NewReader(body))
	abs.ContentLength = int64(len(body))
	next.ServeHTTP(w, abs)
}

func (b *BoundaryMiddleware) checkRaw(next http.Handler, w http.ResponseWriter, r *http.Request) {
	mp, ok := b.Ctl.(MoveParser)
	if !ok {
		http.Error(w, errRawUnguarded.Error(), http.StatusForbidden)
		return
	}
	// downstream handlers want the body too;
	// read it all here, then paste it back
	bodyContent, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	str := generichttp.StrT{}
	if err := json.Unmarshal(bodyContent, &str); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pose, isMove, err := mp.ParseMove(str.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if isMove && !b.Boundaries.PoseInside(pose) {
		http.Error(w, errServerBounds.Error(), http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(bodyContent))
	next.ServeHTTP(w, r)
}

// Inject places a /limits route on the table of the HTTPer that returns the
// server imposed boundaries
func (b BoundaryMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/limits"}] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, b.Boundaries)
	}
}
