package cdp

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/wincc-debug-proxy/internal/dump"
	"github.com/standardbeagle/wincc-debug-proxy/internal/logging"
	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
)

// FirstSyntheticID is the first request id used for getScriptSource calls the
// proxy injects. It sits far above anything a debugger client allocates.
const FirstSyntheticID uint64 = 900000

var scriptParsedMarker = []byte("scriptParsed")

// Options configures one Interceptor
type Options struct {
	Category  target.Category
	LongPaths bool
	// Store enables script dumping when non-nil
	Store *dump.Store
	Log   logrus.FieldLogger
}

// Outcome is what the relay does with one upstream frame
type Outcome struct {
	// ToUpstream, when non-nil, is a request the relay sends back upstream
	ToUpstream []byte
	// ToClient is the frame to forward; only meaningful when Forward is set
	ToClient []byte
	Forward  bool
}

// Interceptor inspects upstream→client text frames for one relay session.
// It is not safe for concurrent use; the upstream reader owns it.
type Interceptor struct {
	opts    Options
	nextID  uint64
	pending map[uint64]string
	dumped  int
}

// NewInterceptor creates the per-session interceptor
func NewInterceptor(opts Options) *Interceptor {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Interceptor{
		opts:    opts,
		nextID:  FirstSyntheticID,
		pending: make(map[uint64]string),
	}
}

// Dumped returns how many scripts this session wrote to disk
func (i *Interceptor) Dumped() int {
	return i.dumped
}

// Pending returns how many getScriptSource replies are still outstanding
func (i *Interceptor) Pending() int {
	return len(i.pending)
}

// Handle processes one upstream text frame
func (i *Interceptor) Handle(text []byte) Outcome {
	var msg *Message
	out := Outcome{}

	if i.opts.Store != nil {
		if i.wantsDump(text) {
			msg, _ = Decode(text)
		}
		if msg != nil {
			switch msg.Kind {
			case KindNotification:
				out.ToUpstream = i.requestSource(msg)
			case KindResponse:
				if path, ok := i.pending[msg.ID]; ok {
					delete(i.pending, msg.ID)
					i.writeSource(path, msg)
					return out
				}
			}
		}
	}

	out.Forward = true
	out.ToClient = i.rewrite(text, msg)
	return out
}

// wantsDump avoids decoding frames that cannot matter to the dump pass
func (i *Interceptor) wantsDump(text []byte) bool {
	if bytes.Contains(text, scriptParsedMarker) {
		return true
	}
	return len(i.pending) > 0 && bytes.Contains(text, []byte(`"id"`))
}

func (i *Interceptor) requestSource(msg *Message) []byte {
	if msg.Method != MethodScriptParsed || !dump.Dumpable(msg.Params.URL) {
		return nil
	}

	path, err := i.opts.Store.Path(i.opts.Category, msg.Params.URL)
	if err != nil {
		i.opts.Log.Warnf("Not dumping script: %v", err)
		return nil
	}

	id := i.nextID
	i.nextID++
	i.pending[id] = path
	return GetScriptSourceRequest(id, msg.Params.ScriptID)
}

func (i *Interceptor) writeSource(path string, msg *Message) {
	if !msg.Result.HasScriptSource {
		return
	}
	if err := i.opts.Store.Write(path, msg.Result.ScriptSource); err != nil {
		logging.Tagged(i.opts.Log, logging.TagDump).Warnf("Failed to write %s: %v", path, err)
		return
	}
	i.dumped++
}

// rewrite shortens params.url of scriptParsed notifications. Any frame it
// cannot handle is returned unchanged.
func (i *Interceptor) rewrite(text []byte, msg *Message) []byte {
	if i.opts.LongPaths || !bytes.Contains(text, scriptParsedMarker) {
		return text
	}

	if msg == nil {
		var err error
		if msg, err = Decode(text); err != nil {
			return text
		}
	}
	if msg.Kind != KindNotification || msg.Method != MethodScriptParsed || !msg.Params.HasURL {
		return text
	}

	long := msg.Params.URL
	short, ok := ShortenScriptURL(long)
	if !ok {
		return text
	}
	if err := msg.SetParamURL(short); err != nil {
		return text
	}
	out, err := msg.Encode()
	if err != nil {
		return text
	}

	i.opts.Log.Debugf("Rewrote script URL: %s -> %s", long, short)
	return out
}
