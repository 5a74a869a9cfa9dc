package db

import "strings"

// SplitStatements splits a MySQL script on semicolons. Semicolons inside
// single- or double-quoted strings, backtick identifiers and comments do not
// end a statement. Quotes may be escaped by doubling or with a backslash.
// Comments are dropped, except /*! ... */ which MySQL executes; empty
// statements are skipped.
func SplitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var quote byte // ', " or ` while inside a quoted run
	inLineComment := false
	blockCommentDepth := 0
	keepComment := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		// Inside -- or # line comment
		if inLineComment {
			if c == '\n' {
				current.WriteByte(c)
				inLineComment = false
			}
			continue
		}

		// Inside /* ... */ block comment (nested)
		if blockCommentDepth > 0 {
			if keepComment {
				current.WriteByte(c)
			}
			if c == '/' && i+1 < len(sql) && sql[i+1] == '*' {
				if keepComment {
					current.WriteByte(sql[i+1])
				}
				i++
				blockCommentDepth++
				continue
			}
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				if keepComment {
					current.WriteByte(sql[i+1])
				}
				i++
				blockCommentDepth--
				if blockCommentDepth == 0 && !keepComment {
					current.WriteByte(' ')
				}
			}
			continue
		}

		// Inside a quoted string or identifier
		if quote != 0 {
			current.WriteByte(c)
			switch {
			case c == '\\' && quote != '`' && i+1 < len(sql):
				current.WriteByte(sql[i+1])
				i++
			case c == quote:
				// Handle doubled quotes ('' "" ``)
				if i+1 < len(sql) && sql[i+1] == quote {
					current.WriteByte(sql[i+1])
					i++
				} else {
					quote = 0
				}
			}
			continue
		}

		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-', c == '#':
			inLineComment = true
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			keepComment = i+2 < len(sql) && sql[i+2] == '!'
			if keepComment {
				current.WriteString("/*")
			}
			i++
			blockCommentDepth = 1
		case c == '\'', c == '"', c == '`':
			current.WriteByte(c)
			quote = c
		case c == ';':
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}

	// Trailing statement without semicolon
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}

	return stmts
}
