// Package cdp holds the small slice of the Chrome DevTools Protocol the proxy
// looks at: script notifications, getScriptSource responses, and the frame
// rewriting applied on the way to the debugger client.
package cdp

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Methods the interceptor reacts to
const (
	MethodScriptParsed    = "Debugger.scriptParsed"
	MethodGetScriptSource = "Debugger.getScriptSource"
)

// Kind tags a decoded frame
type Kind int

const (
	KindUnknown Kind = iota
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

var errNotObject = errors.New("frame is not a JSON object")

// Params carries the scriptParsed fields the proxy needs
type Params struct {
	URL      string
	HasURL   bool
	ScriptID string
}

// Result carries the getScriptSource fields the proxy needs
type Result struct {
	ScriptSource    string
	HasScriptSource bool
}

// Message is a decoded frame. Only the fields the proxy acts on are typed;
// everything else stays in raw so Encode reproduces the frame.
type Message struct {
	Kind   Kind
	Method string // KindNotification
	ID     uint64 // KindResponse
	Params Params
	Result Result

	raw    map[string]json.RawMessage
	params map[string]json.RawMessage
}

// Decode parses a text frame. A frame carrying "method" is a notification,
// one carrying only an unsigned integer "id" is a response.
func Decode(text []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errNotObject
	}

	m := &Message{raw: raw}

	if v, ok := raw["method"]; ok && json.Unmarshal(v, &m.Method) == nil {
		m.Kind = KindNotification
		m.decodeParams()
		return m, nil
	}

	if v, ok := raw["id"]; ok && json.Unmarshal(v, &m.ID) == nil {
		m.Kind = KindResponse
		m.decodeResult()
	}
	return m, nil
}

func (m *Message) decodeParams() {
	v, ok := m.raw["params"]
	if !ok || json.Unmarshal(v, &m.params) != nil || m.params == nil {
		m.params = nil
		return
	}
	if u, ok := m.params["url"]; ok && json.Unmarshal(u, &m.Params.URL) == nil {
		m.Params.HasURL = true
	}
	if id, ok := m.params["scriptId"]; ok {
		json.Unmarshal(id, &m.Params.ScriptID)
	}
}

func (m *Message) decodeResult() {
	v, ok := m.raw["result"]
	if !ok {
		return
	}
	var result map[string]json.RawMessage
	if json.Unmarshal(v, &result) != nil {
		return
	}
	if src, ok := result["scriptSource"]; ok && json.Unmarshal(src, &m.Result.ScriptSource) == nil {
		m.Result.HasScriptSource = true
	}
}

// SetParamURL replaces params.url, leaving every other field untouched
func (m *Message) SetParamURL(url string) error {
	if m.params == nil {
		return errors.New("frame has no params object")
	}
	enc, err := marshal(url)
	if err != nil {
		return err
	}
	m.params["url"] = enc

	params, err := marshal(m.params)
	if err != nil {
		return err
	}
	m.raw["params"] = params
	m.Params.URL = url
	m.Params.HasURL = true
	return nil
}

// Encode serializes the frame, including fields the proxy never decoded
func (m *Message) Encode() ([]byte, error) {
	return marshal(m.raw)
}

// marshal encodes without HTML escaping so script text and URLs come out
// the way the runtime sent them.
func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

type scriptSourceRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params struct {
		ScriptID string `json:"scriptId"`
	} `json:"params"`
}

// GetScriptSourceRequest builds the request frame for one script
func GetScriptSourceRequest(id uint64, scriptID string) []byte {
	req := scriptSourceRequest{ID: id, Method: MethodGetScriptSource}
	req.Params.ScriptID = scriptID
	data, _ := json.Marshal(req)
	return data
}
