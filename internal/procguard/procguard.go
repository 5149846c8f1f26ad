// Package procguard detects a port already in use before the Proxy Server
// binds to it, per spec §4.6. Grounded on the teacher's
// internal/process.Manager.IsRunning/WaitForService, adapted from a PID-file
// check to an HTTP probe since this proxy has no daemon/PID-file model
// (SPEC_FULL §C.7): a live instance of this same proxy answers /healthz with
// the server.InstanceHeader sentinel.
package procguard

import (
	"fmt"
	"net/http"
	"time"
)

// Outcome describes what procguard found occupying a port.
type Outcome int

const (
	// PortFree means the port answered nothing; safe to bind.
	PortFree Outcome = iota
	// OccupiedBySelf means a live instance of this proxy already answers
	// there (carries the sentinel header).
	OccupiedBySelf
	// OccupiedByOther means something else answers there.
	OccupiedByOther
)

const probeTimeout = 500 * time.Millisecond

// instanceHeader mirrors server.InstanceHeader; duplicated here (rather than
// importing internal/server) to keep procguard's dependency surface to just
// net/http, since it must run before the Server package's dependencies
// (adapter, transform) are wired up.
const instanceHeader = "X-Clauded-Instance"

// Probe GETs http://host:port/healthz and classifies what answered, if
// anything. A connection refused/timeout is PortFree.
func Probe(addr string) Outcome {
	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", addr))
	if err != nil {
		return PortFree
	}
	defer resp.Body.Close()

	if resp.Header.Get(instanceHeader) == "1" {
		return OccupiedBySelf
	}
	return OccupiedByOther
}
