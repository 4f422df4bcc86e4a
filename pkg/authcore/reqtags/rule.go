// Package reqtags lets a deployment attach arbitrary, expression-driven tags
// to authorization decisions purely for log enrichment. Tags produced here
// are never consulted by the authorization engine itself: a Tagger only
// observes a Decision after authcore.Engine.IsAuthorized has already reached
// one, and can only add structured fields to whatever logs that decision.
package reqtags

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// Tagger is a goroutine-safe container holding rules loaded from a
// directory of rule files.
type Tagger struct {
	rules atomic.Pointer[[]rule]
}

// LoadFS loads rules from fsys in lexical order, replacing all existing
// ones. On error, the previously loaded rules (if any) are left in place.
func (s *Tagger) LoadFS(fsys fs.FS) error {
	var rules []rule
	if err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			f, err := fsys.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()

			r, err := parseRules(f, path.Clean(p))
			if err != nil {
				return fmt.Errorf("parse rules from %q: %w", p, err)
			}
			rules = append(rules, r...)
		}
		return nil
	}); err != nil {
		return err
	}
	s.rules.Store(&rules)
	return nil
}

// Evaluate evaluates every loaded rule against e, applying tag mutations to
// t for each one whose expression is true. t must not be nil. The returned
// errors are evaluation errors from individual rules; since expressions are
// syntax- and type-checked at load time, this is almost always empty.
func (s *Tagger) Evaluate(e Env, t Tags) []error {
	var errs []error
	if rs := s.rules.Load(); rs != nil {
		for _, r := range *rs {
			if err := r.evaluate(e, t); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// rule is a single parsed rule: an expression and the tag mutations applied
// when it evaluates true.
type rule struct {
	name string
	line int
	expr *vm.Program
	muts []tagMut
}

// parseRules parses rules from r, labeling them with name for error
// messages.
//
// Each rule is an expression, optionally continued on further-indented
// lines, followed by one or more indented lines specifying tag mutations:
//
//	decision == "unauthorized"
//	 && method == "GET"
//	  outcome += "read_denied"
//
// The amount of indentation doesn't matter as long as it's consistent
// within a rule. Blank lines, and lines starting with # after leading
// whitespace is stripped, are ignored.
func parseRules(r io.Reader, name string) ([]rule, error) {
	var (
		rs []rule
		sc = bufio.NewScanner(r)

		line  string
		lineN int
		expB  strings.Builder
		expN  int
		muts  []string
		mutNs []int
		last  int
		level int
	)
	for eof := false; !eof; {
	expLines:
		for {
			if !sc.Scan() {
				eof = true
				break expLines
			}
			line = sc.Text()
			lineN++

			if x := strings.TrimSpace(line); x == "" || strings.HasPrefix(x, "#") {
				continue
			}

			var indent int
			for _, x := range line {
				if !unicode.IsSpace(x) {
					break
				}
				indent++
			}

			if indent == 0 {
				break expLines
			}
			if expB.Len() == 0 {
				return rs, fmt.Errorf("line %d: expected rule expression start, got indented line", lineN)
			}
			if indent > last {
				if level++; level > 2 {
					return rs, fmt.Errorf("line %d: too many indentation levels", lineN)
				}
				for _, x := range muts {
					expB.WriteByte('\n')
					expB.WriteString(x)
				}
				muts = muts[:0]
				mutNs = mutNs[:0]
				last = indent
			}
			if indent != last {
				return rs, fmt.Errorf("line %d: unexpected de-indentation", lineN)
			}
			muts = append(muts, line)
			mutNs = append(mutNs, lineN)
		}

		if expB.Len() != 0 {
			if len(muts) == 0 {
				return rs, fmt.Errorf("line %d: expected rule (expression %q) to contain tag mutations", lineN, expB.String())
			}

			r := rule{name: name, line: expN}
			v, err := expr.Compile(expB.String(), compileOptions...)
			if err != nil {
				return rs, fmt.Errorf("line %d: compile rule expression: %w", expN, err)
			}
			r.expr = v

			r.muts = make([]tagMut, len(muts))
			for i := range r.muts {
				m, err := parseTagMut(muts[i])
				if err != nil {
					return rs, fmt.Errorf("line %d: parse tag mutation: %w", mutNs[i], err)
				}
				r.muts[i] = m
			}
			rs = append(rs, r)

			expB.Reset()
			expN = 0
			muts = muts[:0]
			mutNs = mutNs[:0]
			last = 0
			level = 0
		}

		if !eof {
			expB.WriteString(line)
			expN = lineN
		}
	}
	return rs, sc.Err()
}

func (r rule) evaluate(e Env, t Tags) error {
	v, err := expr.Run(r.expr, e)
	if err != nil {
		return fmt.Errorf("evaluate rule at %s:%d: %w", r.name, r.line, err)
	}
	if v.(bool) && t != nil {
		for _, m := range r.muts {
			m.Apply(t)
		}
	}
	return nil
}
