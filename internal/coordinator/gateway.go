package coordinator

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/secchiware/coordinator/internal/httputil"
	"github.com/secchiware/coordinator/internal/nodeclient"
)

// writeGatewayError maps an error returned by internal/nodeclient to the
// coordinator's HTTP status taxonomy (spec.md §7): a transport-level
// failure is 504 "upstream unreachable", anything else bubbles up as a
// generic 502 unless the caller has already classified it.
func writeGatewayError(w http.ResponseWriter, ip string, port int, err error) {
	if errors.Is(err, nodeclient.ErrUnreachable) {
		httputil.GatewayTimeout(w, "the requested environment could not be reached")
		return
	}
	httputil.BadGateway(w, fmt.Sprintf("unexpected response from node at %s:%d", ip, port))
}

// writeUnexpectedNodeStatus writes the generic 502 "unexpected response
// from node" error, used whenever a node RPC succeeds at the transport
// level but returns a status code none of the endpoint's specific
// mappings recognise.
func writeUnexpectedNodeStatus(w http.ResponseWriter, ip string, port int) {
	httputil.BadGateway(w, fmt.Sprintf("unexpected response from node at %s:%d", ip, port))
}
