package pivoting_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.com/pivotlab/golaparo/generichttp/ascii"
	"github.com/pivotlab/golaparo/generichttp/pivoting"
	"github.com/pivotlab/golaparo/pivot"
	"github.com/pivotlab/golaparo/pivotbox"
	"github.com/pivotlab/golaparo/util"
)

var bounds = pivot.DOFBoundaries{
	PitchMin: -1, PitchMax: 1,
	YawMin: -1, YawMax: 1,
	RollMin: -1, RollMax: 1,
	TransZMin: 0, TransZMax: 100,
}

func newRouter(c pivot.Controller, mw ...func(http.Handler) http.Handler) (chi.Router, pivoting.HTTPController) {
	h := pivoting.NewHTTPController(c)
	r := chi.NewRouter()
	r.Use(mw...)
	h.RT().Bind(r)
	return r, h
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func fastMock(t *testing.T) *pivot.MockController {
	t.Helper()
	c := pivot.NewControllerMock(bounds)
	c.SetVelocity(1000, 100000)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	return c
}

func waitStill(t *testing.T, c *pivot.MockController) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.Moving() {
		if time.Now().After(deadline) {
			t.Fatal("mock did not converge on its target")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOptionalRoutesBound(t *testing.T) {
	_, h := newRouter(fastMock(t))
	want := []string{
		"GET /axis/{axis}/limits",
		"GET /axis/{axis}/pos",
		"GET /boundaries",
		"POST /initialize",
		"GET /inposition",
		"GET /pose",
		"POST /pose",
		"GET /ready",
		"POST /stop",
		"GET /target",
	}
	if diff := cmp.Diff(want, h.RT().Endpoints()); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestReadyRequiresInitialize(t *testing.T) {
	c := pivot.NewControllerMock(bounds)
	r, _ := newRouter(c)
	if got := strings.TrimSpace(do(r, http.MethodGet, "/ready", "").Body.String()); got != `{"bool":false}` {
		t.Errorf("expected not ready, got %s", got)
	}
	if rec := do(r, http.MethodPost, "/pose", `{"pitch":0.1}`); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 moving an unready controller, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/initialize", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected initialize to succeed, got %d", rec.Code)
	}
	if got := strings.TrimSpace(do(r, http.MethodGet, "/ready", "").Body.String()); got != `{"bool":true}` {
		t.Errorf("expected ready, got %s", got)
	}
}

func TestSetAndGetPose(t *testing.T) {
	c := fastMock(t)
	r, _ := newRouter(c)
	rec := do(r, http.MethodPost, "/pose", `{"pitch":0.5,"yaw":-0.25,"roll":0,"transZ":40}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	waitStill(t, c)
	var got pivot.DOFPose
	if err := json.NewDecoder(do(r, http.MethodGet, "/pose", "").Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := pivot.DOFPose{Pitch: 0.5, Yaw: -0.25, TransZ: 40}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pose mismatch (-want +got):\n%s", diff)
	}
	if got := strings.TrimSpace(do(r, http.MethodGet, "/inposition", "").Body.String()); got != `{"bool":true}` {
		t.Errorf("expected in position, got %s", got)
	}
}

func TestRelativeMove(t *testing.T) {
	c := fastMock(t)
	r, _ := newRouter(c)
	do(r, http.MethodPost, "/pose", `{"transZ":40}`)
	waitStill(t, c)
	rec := do(r, http.MethodPost, "/pose?relative=true", `{"pitch":0.1,"transZ":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	waitStill(t, c)
	pos, _ := c.GetCurrentDOFPose()
	if !pos.CloseTo(pivot.DOFPose{Pitch: 0.1, TransZ: 45}, 1e-9, 1e-9) {
		t.Errorf("expected relative move to land at pitch 0.1 transZ 45, got %v", pos)
	}
}

func TestPoseTextRendering(t *testing.T) {
	r, _ := newRouter(fastMock(t))
	req := httptest.NewRequest(http.MethodGet, "/pose", nil)
	req.Header.Set("Accept", "text/plain")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Body.String() != "pitch:0 yaw:0 roll:0 transZ:0" {
		t.Errorf("unexpected text pose %q", rec.Body.String())
	}
}

func TestControllerRejectsOutOfBounds(t *testing.T) {
	r, _ := newRouter(fastMock(t))
	rec := do(r, http.MethodPost, "/pose", `{"pitch":1.5}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestBadRequests(t *testing.T) {
	r, _ := newRouter(fastMock(t))
	if rec := do(r, http.MethodPost, "/pose?relative=maybe", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on bad relative flag, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/pose", `{"pitch":`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on bad body, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/axis/surge/pos", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on unknown axis, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/inposition?rot=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on bad tolerance, got %d", rec.Code)
	}
}

func TestAxisRoutes(t *testing.T) {
	c := fastMock(t)
	r, _ := newRouter(c)
	do(r, http.MethodPost, "/pose", `{"yaw":0.75}`)
	waitStill(t, c)
	if got := strings.TrimSpace(do(r, http.MethodGet, "/axis/yaw/pos", "").Body.String()); got != `{"f64":0.75}` {
		t.Errorf("expected yaw 0.75, got %s", got)
	}
	var lim util.Limiter
	json.NewDecoder(do(r, http.MethodGet, "/axis/transZ/limits", "").Body).Decode(&lim)
	if diff := cmp.Diff(util.Limiter{Min: 0, Max: 100}, lim); diff != "" {
		t.Errorf("limits mismatch (-want +got):\n%s", diff)
	}
}

func TestBoundaryMiddleware(t *testing.T) {
	c := fastMock(t)
	tight := bounds
	tight.PitchMin, tight.PitchMax = -0.2, 0.2
	bm := pivoting.BoundaryMiddleware{Boundaries: tight, Ctl: c}
	h := pivoting.NewHTTPController(c)
	bm.Inject(h)
	r := chi.NewRouter()
	r.Use(bm.Check)
	h.RT().Bind(r)

	if rec := do(r, http.MethodPost, "/pose", `{"pitch":0.5}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected server boundaries to reject pitch 0.5, got %d", rec.Code)
	}
	if c.Moving() {
		t.Error("expected rejected request not to reach the controller")
	}
	if rec := do(r, http.MethodPost, "/pose", `{"pitch":0.15}`); rec.Code != http.StatusOK {
		t.Fatalf("expected pitch 0.15 to pass, got %d: %s", rec.Code, rec.Body.String())
	}
	waitStill(t, c)
	if rec := do(r, http.MethodPost, "/pose?relative=true", `{"pitch":0.1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected relative move to 0.25 to be rejected, got %d", rec.Code)
	}
	var got pivot.DOFBoundaries
	json.NewDecoder(do(r, http.MethodGet, "/limits", "").Body).Decode(&got)
	if diff := cmp.Diff(tight, got); diff != "" {
		t.Errorf("limits mismatch (-want +got):\n%s", diff)
	}
}

func TestStopRoute(t *testing.T) {
	c := pivot.NewControllerMock(bounds)
	c.SetVelocity(0.001, 0.001)
	c.Initialize()
	r, _ := newRouter(c)
	do(r, http.MethodPost, "/pose", `{"pitch":1}`)
	if rec := do(r, http.MethodPost, "/stop", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if c.Moving() {
		t.Error("expected stop to halt the controller")
	}
}

// driftingController advances its pitch by 0.1 on every pose read, as a
// mechanism in motion would
type driftingController struct {
	pivot.Readiness

	mu     sync.Mutex
	pos    pivot.DOFPose
	target pivot.DOFPose
	sets   int
}

func newDriftingController() *driftingController {
	d := &driftingController{}
	d.SetPoseReady(true)
	d.SetBoundariesReady(true)
	return d
}

func (d *driftingController) SetTargetDOFPose(p pivot.DOFPose) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = p
	d.sets++
	return nil
}

func (d *driftingController) GetCurrentDOFPose() (pivot.DOFPose, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.pos
	d.pos.Pitch += 0.1
	return p, nil
}

func (d *driftingController) GetDOFBoundaries() (pivot.DOFBoundaries, error) {
	return bounds, nil
}

func TestBoundaryMiddlewareResolvesRelativeOnce(t *testing.T) {
	d := newDriftingController()
	tight := bounds
	tight.PitchMin, tight.PitchMax = -0.2, 0.2
	bm := pivoting.BoundaryMiddleware{Boundaries: tight, Ctl: d}
	r, _ := newRouter(d, bm.Check)

	rec := do(r, http.MethodPost, "/pose?relative=true", `{"pitch":0.15}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	d.mu.Lock()
	target := d.target
	d.mu.Unlock()
	if target.Pitch != 0.15 {
		t.Errorf("expected the checked target pitch 0.15 to be commanded, got %v", target)
	}
	if !tight.PoseInside(target) {
		t.Errorf("commanded target %v lies outside the server boundaries", target)
	}

	// the pose has drifted to 0.1, so the same relative move now leaves them
	if rec := do(r, http.MethodPost, "/pose?relative=true", `{"pitch":0.15}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sets != 1 {
		t.Errorf("expected exactly one accepted target, got %d", d.sets)
	}
}

// rawMock is a mock with a raw interface that understands pivot box moves
type rawMock struct {
	*pivot.MockController

	mu   sync.Mutex
	sent []string
}

func (m *rawMock) Raw(cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, cmd)
	return "OK", nil
}

func (m *rawMock) ParseMove(cmd string) (pivot.DOFPose, bool, error) {
	return pivotbox.ParseMove(cmd)
}

func (m *rawMock) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// rawOnly has a raw interface that cannot be inspected
type rawOnly struct {
	*pivot.MockController
}

func (rawOnly) Raw(cmd string) (string, error) { return "OK", nil }

func rawRouter(c pivot.Controller, raw ascii.RawCommunicator, b pivot.DOFBoundaries) http.Handler {
	bm := &pivoting.BoundaryMiddleware{Boundaries: b, Ctl: c}
	h := pivoting.NewHTTPController(c)
	ascii.InjectRawComm(h, raw)
	r := chi.NewRouter()
	r.Use(bm.Check)
	h.RT().Bind(r)
	return r
}

func TestBoundaryMiddlewareGuardsRaw(t *testing.T) {
	m := &rawMock{MockController: fastMock(t)}
	tight := bounds
	tight.PitchMin, tight.PitchMax = -0.2, 0.2
	r := rawRouter(m, m, tight)

	rejected := []string{
		`{"str":"MOV 0.5 0 0 10"}`,
		`{"str":"mov 0 0 0 1000"}`,
		`{"str":"MOV 1"}`,
		`{"str":"POS?\rMOV 9 9 9 999"}`,
		`{"str":`,
	}
	for _, body := range rejected {
		if rec := do(r, http.MethodPost, "/raw", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
	if sent := m.history(); len(sent) != 0 {
		t.Fatalf("expected no rejected command to reach the controller, got %v", sent)
	}

	for _, body := range []string{`{"str":"MOV 0.1 0 0 10"}`, `{"str":"POS?"}`} {
		if rec := do(r, http.MethodPost, "/raw", body); rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", body, rec.Code, rec.Body.String())
		}
	}
	if diff := cmp.Diff([]string{"MOV 0.1 0 0 10", "POS?"}, m.history()); diff != "" {
		t.Errorf("sent commands mismatch (-want +got):\n%s", diff)
	}
}

func TestBoundaryMiddlewareRefusesOpaqueRaw(t *testing.T) {
	c := rawOnly{fastMock(t)}
	r := rawRouter(c, c, bounds)
	if rec := do(r, http.MethodPost, "/raw", `{"str":"POS?"}`); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a raw interface that cannot be checked, got %d", rec.Code)
	}
}
