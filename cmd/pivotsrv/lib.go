package main

import (
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/pivotlab/golaparo/comm"
	"github.com/pivotlab/golaparo/generichttp"
	"github.com/pivotlab/golaparo/generichttp/ascii"
	"github.com/pivotlab/golaparo/generichttp/pivoting"
	"github.com/pivotlab/golaparo/pivot"
	"github.com/pivotlab/golaparo/pivotbox"
	"github.com/pivotlab/golaparo/server/middleware/locker"
)

var (
	// DefaultMockBoundaries is the envelope of simulated nodes:
	// +/- 0.6 rad of pitch and yaw, a full turn of roll, and 150 mm of depth
	DefaultMockBoundaries = pivot.DOFBoundaries{
		PitchMin: -0.6, PitchMax: 0.6,
		YawMin: -0.6, YawMax: 0.6,
		RollMin: -math.Pi, RollMax: math.Pi,
		TransZMin: 0, TransZMax: 150,
	}

	errDuplicateEndpoint = errors.New("endpoint used by more than one node")
)

// NodeSetup holds the parameters needed to construct one controller.
// Serial, Baud and RateLimit are only used by pivot boxes.
type NodeSetup struct {
	// Addr holds the network or filesystem address of the remote device,
	// e.g. 192.168.100.123:2006 for a device connected to port 6
	// on a digi portserver, or /dev/ttyS4 for an RS232 device on a serial cable
	Addr string `yaml:"Addr"`

	// Endpoint is the path the routes from this node will be served on
	// ex. Endpoint="/or1/scope" will produce routes of /or1/scope/pose, etc.
	Endpoint string `yaml:"Endpoint"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`

	// Baud is the serial baud rate
	Baud int `yaml:"Baud"`

	// Type is the "type" of the node, pivotbox or mock
	Type string `yaml:"Type"`

	// RateLimit is the maximum number of commands per second sent to the device
	RateLimit float64 `yaml:"RateLimit"`

	// Boundaries are server-imposed limits, checked before the controller's own
	Boundaries *pivot.DOFBoundaries `yaml:"Boundaries,omitempty"`
}

// Config is a struct that holds the initialization parameters for the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock replaces every pivot box with a simulated controller
	Mock bool `yaml:"Mock"`

	// Nodes is the list of nodes to set up
	Nodes []NodeSetup `yaml:"Nodes"`
}

// DefaultConfig serves a single simulated node
func DefaultConfig() Config {
	return Config{
		Addr:  ":8000",
		Nodes: []NodeSetup{{Endpoint: "/pivot", Type: "mock"}},
	}
}

// LoadConfig layers the yaml file at path over DefaultConfig.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	c := Config{}
	err := k.Load(structs.Provider(DefaultConfig(), "yaml"), nil)
	if err != nil {
		return c, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return c, fmt.Errorf("loading config: %w", err)
		}
	}
	err = k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "yaml"})
	return c, err
}

// buildController makes the controller for a node and tries to initialize
// it.  A controller which fails to initialize is still served; it reports
// itself not ready.
func buildController(node NodeSetup, mock bool) (pivot.Controller, error) {
	var ctl pivot.Controller
	typ := strings.ToLower(node.Type)
	switch {
	case typ == "mock", mock && typ == "pivotbox":
		ctl = pivot.NewControllerMock(DefaultMockBoundaries)
	case typ == "pivotbox":
		ctl = pivotbox.New(comm.Config{Addr: node.Addr, Serial: node.Serial, Baud: node.Baud}, node.RateLimit)
	default:
		return nil, fmt.Errorf("type %q not understood", node.Type)
	}
	if ini, ok := ctl.(pivot.Initializer); ok {
		if err := ini.Initialize(); err != nil {
			log.Printf("node %s failed to initialize, it will not be ready: %v", node.Endpoint, err)
		}
	}
	return ctl, nil
}

// BuildMux constructs a chi router with a subrouter for every node.  The
// root serves /endpoints, a map of node endpoint to its routes.
func BuildMux(c Config) (chi.Router, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	for _, node := range c.Nodes {
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)
		if _, ok := supergraph[hndlS]; ok {
			return nil, fmt.Errorf("%w: %s", errDuplicateEndpoint, hndlS)
		}
		ctl, err := buildController(node, c.Mock)
		if err != nil {
			return nil, err
		}
		httper := pivoting.NewHTTPController(ctl)
		if raw, ok := ctl.(ascii.RawCommunicator); ok {
			ascii.InjectRawComm(httper, raw)
		}

		var mws []func(http.Handler) http.Handler
		if node.Boundaries != nil {
			if err := node.Boundaries.Validate(); err != nil {
				return nil, fmt.Errorf("node %s: %w", hndlS, err)
			}
			bm := &pivoting.BoundaryMiddleware{Boundaries: *node.Boundaries, Ctl: ctl}
			bm.Inject(httper)
			mws = append(mws, bm.Check)
		}
		lock := locker.New()
		locker.Inject(httper, lock)
		// the lock goes first so a locked node does not even read the body
		mws = append([]func(http.Handler) http.Handler{lock.Check}, mws...)

		r := chi.NewRouter()
		r.Use(mws...)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
		supergraph[hndlS] = httper.RT().Endpoints()
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, supergraph)
	})
	return root, nil
}
