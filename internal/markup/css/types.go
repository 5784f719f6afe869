// Package css implements component J: a character-at-a-time CSS
// streaming parser that emits class-name, id, block, property and
// url/import events as bytes are pushed through Feed.
package css

// Value carries a parsed token's byte range and text.
type Value struct {
	Start, End int64
	Text       string
}

// Handler receives parser events. Each method is optional in the
// original C++ sense (a nil field there), expressed here as a
// boolean the caller sets on Options to say whether that class of
// event is wanted at all — matching the original's optimization of
// skipping work the caller doesn't need (e.g. no class_name makes '.'
// a no-op instead of entering CLASS_NAME).
type Handler interface {
	OnClassName(name Value)
	OnXMLID(id Value)
	OnBlock()
	OnPropertyKeyword(name string, value string, start, end int64)
	OnURL(url Value)
	OnImport(url Value)
}

// Options controls which optional event classes the parser looks for,
// mirroring the original's "handler.xxx != nullptr" checks.
type Options struct {
	WantClassName bool
	WantXMLID     bool
	WantBlock     bool
	WantProperty  bool
	WantURL       bool
	WantImport    bool
}

const (
	maxNameLength  = 64
	maxValueLength = 64
	maxURLLength   = 1024
)

func isASCII(c byte) bool { return c < 0x80 }

func isAlphaASCII(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigitASCII(c byte) bool { return c >= '0' && c <= '9' }

func isCSSNonASCII(c byte) bool { return !isASCII(c) }

func isCSSNmStart(c byte) bool {
	return c == '_' || isAlphaASCII(c) || isCSSNonASCII(c) || c == '\\'
}

func isCSSNmChar(c byte) bool {
	return isCSSNmStart(c) || isDigitASCII(c) || c == '-'
}

func isCSSIdentStart(c byte) bool {
	return c == '-' || isCSSNmStart(c)
}

func isCSSIdentChar(c byte) bool { return isCSSNmChar(c) }

func isWhitespaceOrNull(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == 0
}
