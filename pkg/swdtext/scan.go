package swdtext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// scanLines tokenizes a full transcript into its constituent lines. A
// trailing line with no newline is accepted (the upstream sigrok-cli
// capture does not always end with one).
func scanLines(input string) ([]line, error) {
	lex, err := textLexer.Lex("", strings.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("swdtext: lex: %w", err)
	}

	var lines []line
	for {
		tsTok, err := lex.Next()
		if err != nil {
			return nil, fmt.Errorf("swdtext: %w", err)
		}
		if tsTok.EOF() {
			return lines, nil
		}
		if tsTok.Type != timestampType {
			return nil, fmt.Errorf("swdtext: expected timestamp at %s, got %q", tsTok.Pos, tsTok.Value)
		}
		start, end, err := splitTimestamp(tsTok.Value)
		if err != nil {
			return nil, fmt.Errorf("swdtext: %s: %w", tsTok.Pos, err)
		}

		headerTok, err := lex.Next()
		if err != nil {
			return nil, fmt.Errorf("swdtext: %w", err)
		}
		if headerTok.Type != headerType {
			return nil, fmt.Errorf("swdtext: expected \" swd-1: \" at %s, got %q", headerTok.Pos, headerTok.Value)
		}

		contentTok, err := lex.Next()
		if err != nil {
			return nil, fmt.Errorf("swdtext: %w", err)
		}
		if contentTok.Type != contentType {
			return nil, fmt.Errorf("swdtext: expected line content at %s, got %q", contentTok.Pos, contentTok.Value)
		}

		lines = append(lines, line{Start: start, End: end, Content: contentTok.Value})

		nlTok, err := lex.Next()
		if err != nil {
			return nil, fmt.Errorf("swdtext: %w", err)
		}
		if !nlTok.EOF() && nlTok.Type != newlineType {
			return nil, fmt.Errorf("swdtext: expected newline at %s, got %q", nlTok.Pos, nlTok.Value)
		}
		if nlTok.EOF() {
			return lines, nil
		}
	}
}

func splitTimestamp(s string) (start, end uint64, err error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return 0, 0, fmt.Errorf("malformed timestamp %q", s)
	}
	start, err = strconv.ParseUint(s[:dash], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	end, err = strconv.ParseUint(s[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return start, end, nil
}

var (
	timestampType = symbolType("Timestamp")
	headerType    = symbolType("Header")
	contentType   = symbolType("Content")
	newlineType   = symbolType("Newline")
)

func symbolType(name string) lexer.TokenType {
	t, ok := textLexer.Symbols()[name]
	if !ok {
		panic("swdtext: unknown lexer symbol " + name)
	}
	return t
}
