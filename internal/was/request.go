package was

import (
	"encoding/binary"
	"net/http"
	"sort"
)

// methodCodes mirrors the WAS protocol's small method-number table;
// METHOD is only sent when the request isn't a plain GET (spec §4.4
// "METHOD (if not GET)").
var methodCodes = map[string]uint32{
	http.MethodGet:     1,
	http.MethodHead:    2,
	http.MethodPost:    3,
	http.MethodPut:     4,
	http.MethodDelete:  5,
	http.MethodOptions: 6,
	"PROPFIND":         7,
	"PROPPATCH":        8,
}

// Request is everything BuildRequestPackets needs to frame the request
// half of a WAS exchange (spec §4.4 "Request packets").
type Request struct {
	Method      string
	URI         string
	ScriptName  string
	PathInfo    string
	QueryString string
	Headers     http.Header
	Parameters  map[string]string
	HasBody     bool
}

// BuildRequestPackets frames the ordered control-channel packet
// sequence for a request: REQUEST; METHOD (if not GET); URI; optional
// SCRIPT_NAME/PATH_INFO/QUERY_STRING; HEADER*; PARAMETER*; then DATA
// or NO_DATA. The caller writes each packet to the control channel in
// order, then (if HasBody) streams the request body over the separate
// output pipe.
func BuildRequestPackets(r Request) [][]byte {
	var packets [][]byte
	packets = append(packets, WriteEmpty(CommandRequest))

	if r.Method != "" && r.Method != http.MethodGet {
		code := methodCodes[r.Method]
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], code)
		packets = append(packets, WritePacket(CommandMethod, b[:]))
	}

	packets = append(packets, WriteString(CommandURI, r.URI))

	if r.ScriptName != "" {
		packets = append(packets, WriteString(CommandScriptName, r.ScriptName))
	}
	if r.PathInfo != "" {
		packets = append(packets, WriteString(CommandPathInfo, r.PathInfo))
	}
	if r.QueryString != "" {
		packets = append(packets, WriteString(CommandQueryString, r.QueryString))
	}

	headerNames := make([]string, 0, len(r.Headers))
	for name := range r.Headers {
		headerNames = append(headerNames, name)
	}
	sort.Strings(headerNames)
	for _, name := range headerNames {
		for _, value := range r.Headers[name] {
			packets = append(packets, WriteString(CommandHeader, name+"="+value))
		}
	}

	paramNames := make([]string, 0, len(r.Parameters))
	for name := range r.Parameters {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)
	for _, name := range paramNames {
		packets = append(packets, WriteString(CommandParameter, name+"="+r.Parameters[name]))
	}

	if r.HasBody {
		packets = append(packets, WriteEmpty(CommandData))
	} else {
		packets = append(packets, WriteEmpty(CommandNoData))
	}
	return packets
}
