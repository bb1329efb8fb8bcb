package obs

import "encoding/json"

// obs-websocket v5 opcodes. Every frame on the wire is a JSON envelope
// {"op": <int>, "d": <object>} where the shape of d depends on op.
const (
	// OpHello is sent by the server immediately after the socket opens.
	// Carries the rpc version and, when authentication is required, a
	// challenge/salt pair.
	OpHello = 0
	// OpIdentify is the client's reply to Hello.
	OpIdentify = 1
	// OpIdentified is the server's confirmation that the session is usable.
	OpIdentified = 2
	// OpEvent is a server-pushed event. Logged and otherwise ignored here.
	OpEvent = 5
	// OpRequest is a client-initiated request.
	OpRequest = 6
	// OpRequestResponse is the server's reply to a single request.
	OpRequestResponse = 7
	// OpRequestBatchResponse is the reply to a request batch. Unused.
	OpRequestBatchResponse = 9
)

// envelope is the outermost frame structure shared by all opcodes.
type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// helloData is the payload of an OpHello frame.
type helloData struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

// identifyData is the payload of an OpIdentify frame. Authentication is
// omitted entirely when the server did not demand it.
type identifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
}

// requestData is the payload of an OpRequest frame.
type requestData struct {
	RequestType string          `json:"requestType"`
	RequestID   string          `json:"requestId"`
	RequestData json.RawMessage `json:"requestData,omitempty"`
}

// responseData is the payload of an OpRequestResponse frame.
type responseData struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// eventData is the payload of an OpEvent frame. Only the type is decoded,
// for debug logging.
type eventData struct {
	EventType string `json:"eventType"`
}

func encodeFrame(op int, d any) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Op: op, D: raw})
}
