// Package swdtext turns the line-oriented transcript a sigrok-cli SWD
// decoder prints on stdout into the canonical adi.Input stream.
package swdtext

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// textLexer splits a transcript into timestamp/header/content/newline
// tokens. The grammar itself (WAIT-storm retries, FAULT landmarks,
// chained-AP-read pairing) is not context-free, so it is implemented as a
// hand-rolled recursive-descent parser over this token stream rather than
// as a declarative participle grammar.
var textLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Timestamp", Pattern: `[0-9]+-[0-9]+`},
	{Name: "Header", Pattern: ` swd-1: ?`},
	{Name: "Content", Pattern: `[^\r\n]+`},
	{Name: "Newline", Pattern: `\r?\n`},
})

// line is one "<start>-<end> swd-1: <content>" record.
type line struct {
	Start, End uint64
	Content    string
}
