package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "pivotsrv.yml"
)

func root() {
	str := `pivotsrv drives laparoscope pivoting controllers and exposes an HTTP interface to them
This enables a server-client architecture, and the clients can leverage the
excellent HTTP libraries for any programming language.

Usage:
	pivotsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `pivotsrv is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration, the server runs a single simulated node at /pivot.

No two nodes can have the same Endpoint.

Endpoints may look like any variation between "or1/scope" or "/or1/scope/*", the leading
and trailing slashes, as well as the *, are handled by the server.

Node types, case insensitive:
- "pivotbox": an ASCII pivot motion box over TCP (Addr host:port) or RS232
  (Serial: true, Addr /dev/ttyS0, Baud).  RateLimit caps commands per second.
- "mock": a simulated pivoting mechanism.

Mock: true turns every pivotbox into a mock.

Every node may carry Boundaries (PitchMin, PitchMax, YawMin, YawMax, RollMin,
RollMax, TransZMin, TransZMax) which the server enforces on POST /pose before
the controller sees the request.  Angles are radians, TransZ millimeters.

Routes per node:
	GET  pose, boundaries, ready, axis/{axis}/pos, axis/{axis}/limits, lock
	POST pose (?relative=true), lock
	and, where supported, POST initialize, stop, raw; GET target, inposition`
	fmt.Println(str)
}

func mkconf(c Config) {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf(c Config) {
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("pivotsrv version %v\n", Version)
}

func run(c Config) {
	mux, err := BuildMux(c)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	c, err := LoadConfig(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf(c)
	case "conf":
		printconf(c)
	case "run":
		run(c)
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
