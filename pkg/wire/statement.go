package wire

import (
	"strings"
	"unicode"
)

// Statement kinds used by ReturnsRows.
var (
	statementStarts = map[string]bool{
		"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
		"WITH": true, "EXEC": true, "EXECUTE": true, "BEGIN": true, "COMMIT": true,
		"ROLLBACK": true, "SAVE": true, "SET": true, "DECLARE": true, "CREATE": true,
		"ALTER": true, "DROP": true, "TRUNCATE": true, "IF": true, "ELSE": true,
		"WHILE": true, "PRINT": true, "USE": true, "GRANT": true, "REVOKE": true,
		"DENY": true, "RAISERROR": true, "THROW": true, "RETURN": true,
		"WAITFOR": true, "OPEN": true, "CLOSE": true, "DEALLOCATE": true,
		"GOTO": true, "BREAK": true, "CONTINUE": true, "CHECKPOINT": true,
		"BACKUP": true, "RESTORE": true, "KILL": true, "BULK": true,
		"ENABLE": true, "DISABLE": true, "REVERT": true, "RECONFIGURE": true,
		"SHUTDOWN": true,
	}

	dmlStarts = map[string]bool{
		"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
	}
)

// ReturnsRows reports whether a T-SQL batch is expected to produce a result
// set. The go-mssqldb driver only reports affected-row counts through Exec,
// so the Channel has to pick Query or Exec before sending the batch.
//
// The check works on depth-0 tokens only (subqueries are parenthesised):
//   - SELECT, EXEC and EXECUTE starting a statement return rows;
//   - a statement opened by a parenthesis is a query expression,
//     (SELECT 1) UNION ALL (SELECT 2);
//   - a batch whose first word is not a statement keyword is an implicit
//     procedure call (sp_who, dbo.report, [dbo].[report]);
//   - WITH returns rows when its main statement is a SELECT;
//   - INSERT/UPDATE/DELETE/MERGE return rows only with an OUTPUT clause;
//   - INSERT ... SELECT and INSERT ... EXEC are a single statement.
//
// Batches without semicolons are handled: a depth-0 SELECT after an UPDATE
// starts a new statement.
func ReturnsRows(query string) bool {
	head := ""
	sawValues := false
	start := true

	for i, tok := range tokenize(query) {
		if tok == ";" {
			head, sawValues, start = "", false, true
			continue
		}
		if start {
			start = false
			if tok == "(" {
				return true
			}
			if i == 0 && (tok == quotedIdent || !statementStarts[tok]) {
				return true
			}
		}
		if !statementStarts[tok] && tok != "OUTPUT" && tok != "VALUES" {
			continue
		}

		switch {
		case head == "":
			head = tok
			if tok == "SELECT" || tok == "EXEC" || tok == "EXECUTE" {
				return true
			}

		case head == "WITH":
			if tok == "SELECT" {
				return true
			}
			if dmlStarts[tok] {
				head = tok
			}

		case dmlStarts[head]:
			switch {
			case tok == "OUTPUT":
				return true
			case tok == "VALUES":
				sawValues = true
			case head == "MERGE":
				// WHEN MATCHED THEN UPDATE SET ... belongs to the MERGE
			case head == "UPDATE" && tok == "SET":
			case tok == "WITH":
				// table hint: UPDATE t WITH (ROWLOCK)
			case head == "INSERT" && !sawValues &&
				(tok == "SELECT" || tok == "EXEC" || tok == "EXECUTE"):
				// INSERT ... SELECT / INSERT ... EXEC
			case tok == "SELECT" || tok == "EXEC" || tok == "EXECUTE":
				return true
			default:
				head, sawValues = tok, false
			}

		default:
			switch {
			case tok == "SELECT" || tok == "EXEC" || tok == "EXECUTE":
				return true
			case dmlStarts[tok] || tok == "WITH":
				head, sawValues = tok, false
			}
		}
	}

	return false
}

// quotedIdent stands for a depth-0 [bracketed] or "quoted" identifier.
const quotedIdent = "[]"

// Keywords returns the upper-cased words of a batch outside comments,
// literals and parentheses, with ";" for each top-level separator, "("
// for each top-level opening parenthesis and "[]" for each quoted
// identifier.
func Keywords(query string) []string {
	return tokenize(query)
}

// tokenize returns the upper-cased depth-0 words of a batch plus ";",
// "(" and quotedIdent markers. Comments, string literals and everything
// inside parentheses are skipped.
func tokenize(query string) []string {
	var tokens []string
	runes := []rune(query)
	depth := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			// T-SQL block comments nest
			nest := 0
			for ; i+1 < len(runes); i++ {
				if runes[i] == '/' && runes[i+1] == '*' {
					nest++
					i++
				} else if runes[i] == '*' && runes[i+1] == '/' {
					nest--
					i++
					if nest == 0 {
						break
					}
				}
			}

		case r == '\'':
			i = skipQuoted(runes, i, '\'')
		case r == '"' || r == '[':
			closing := r
			if r == '[' {
				closing = ']'
			}
			i = skipQuoted(runes, i, closing)
			if depth == 0 {
				tokens = append(tokens, quotedIdent)
			}

		case r == '(':
			if depth == 0 {
				tokens = append(tokens, "(")
			}
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}

		case r == ';':
			if depth == 0 {
				tokens = append(tokens, ";")
			}

		case isWordRune(r):
			start := i
			for i+1 < len(runes) && isWordRune(runes[i+1]) {
				i++
			}
			if depth == 0 {
				tokens = append(tokens, strings.ToUpper(string(runes[start:i+1])))
			}
		}
	}

	return tokens
}

// skipQuoted returns the index of the closing quote. Doubled closing
// quotes are escapes, both for string literals and for ] in
// bracketed identifiers.
func skipQuoted(runes []rune, i int, closing rune) int {
	for i++; i < len(runes); i++ {
		if runes[i] == closing {
			if i+1 < len(runes) && runes[i+1] == closing {
				i++
				continue
			}
			return i
		}
	}
	return i
}

func isWordRune(r rune) bool {
	return r == '_' || r == '@' || r == '#' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
