/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sqlparam

import (
	"fmt"
	"regexp"
	"strings"

	lerrors "github.com/signaldata/loaderengine/internal/errors"
)

var forbiddenKeywordRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|TRUNCATE|ALTER|CREATE)\b`)

// EnsureReadOnly re-checks a rendered loader query against the
// read-only contract: the first non-whitespace token must be SELECT,
// and none of INSERT/UPDATE/DELETE/DROP/TRUNCATE/ALTER/CREATE may
// appear outside a string literal. Placeholder substitution happens
// before this check runs, so a loader cannot smuggle a mutating
// statement in through :fromTime/:toTime/:replicaId.
func EnsureReadOnly(sql string) error {
	stripped := stripStringLiterals(sql)

	trimmed := strings.TrimLeft(strings.TrimSpace(stripped), "( \t\r\n")
	firstWord := trimmed
	if i := strings.IndexFunc(trimmed, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '(' }); i >= 0 {
		firstWord = trimmed[:i]
	}
	if !strings.EqualFold(firstWord, "SELECT") {
		return lerrors.New(lerrors.KindSQLNotReadOnly, fmt.Errorf("query must begin with SELECT"))
	}

	if m := forbiddenKeywordRe.FindString(stripped); m != "" {
		return lerrors.New(lerrors.KindSQLNotReadOnly, fmt.Errorf("query contains forbidden keyword %q", strings.ToUpper(m)))
	}

	return nil
}

// stripStringLiterals blanks out the contents of single-quoted string
// literals (honouring '' as an escaped quote) so keyword scanning
// never matches text that only appears inside a literal value.
func stripStringLiterals(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	inString := false
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inString {
			if r == '\'' {
				if i+1 < len(runes) && runes[i+1] == '\'' {
					b.WriteRune(' ')
					b.WriteRune(' ')
					i++
					continue
				}
				inString = false
			}
			b.WriteRune(' ')
			continue
		}
		if r == '\'' {
			inString = true
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
