package cdp

import "strings"

const (
	screenContentPrefix = "screen_modules/Screen_Content/"
	runtimePrefix       = "HMI_RT_"
	faceplateSegment    = "/faceplate_modules/"
)

// ShortenScriptURL turns the runtime's long script paths into the form shown
// in the debugger's source tree:
//
//	/screen_modules/Screen_Content/HMI_RT_1::HMI_Screen/faceplate_modules/CM_Freq/Events.js
//	HMI_Screen/CM_Freq/Events.js
//
// It reports false for URLs outside screen_modules/Screen_Content/.
func ShortenScriptURL(path string) (string, bool) {
	rest := strings.TrimPrefix(path, "/")
	rest, ok := strings.CutPrefix(rest, screenContentPrefix)
	if !ok {
		return "", false
	}

	if i := strings.IndexByte(rest, ':'); i >= 0 && isRuntimeName(rest[:i]) {
		rest = strings.TrimLeft(rest[i:], ":")
	}

	return strings.ReplaceAll(rest, faceplateSegment, "/"), true
}

// isRuntimeName matches HMI_RT_ followed only by ASCII digits
func isRuntimeName(s string) bool {
	digits, ok := strings.CutPrefix(s, runtimePrefix)
	if !ok {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return false
		}
	}
	return true
}
