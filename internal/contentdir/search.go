package contentdir

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/mikey-austin/plex_dlna/internal/core"
)

var searchProperties = []string{
	"dc:title",
	"dc:creator",
	"upnp:artist",
	"upnp:album",
	"upnp:genre",
	"upnp:class",
	"dc:date",
	"@id",
	"@parentID",
	"@refID",
}

var textProperties = map[string]bool{
	"dc:title":    true,
	"dc:creator":  true,
	"upnp:artist": true,
	"upnp:album":  true,
}

// subject is what a search expression is evaluated against.
type subject struct {
	objectID string
	parentID string
	class    string
	title    string
	creator  string
	artist   string
	album    string
	genre    string
	date     string
}

func (s subject) property(name string) string {
	switch name {
	case "dc:title":
		return s.title
	case "dc:creator":
		return s.creator
	case "upnp:artist":
		return s.artist
	case "upnp:album":
		return s.album
	case "upnp:genre":
		return s.genre
	case "upnp:class":
		return s.class
	case "dc:date":
		return s.date
	case "@id":
		return s.objectID
	case "@parentID":
		return s.parentID
	default:
		return ""
	}
}

type expr interface {
	match(s subject) bool
}

type matchAll struct{}

func (matchAll) match(subject) bool { return true }

type andExpr struct{ left, right expr }

func (e andExpr) match(s subject) bool { return e.left.match(s) && e.right.match(s) }

type orExpr struct{ left, right expr }

func (e orExpr) match(s subject) bool { return e.left.match(s) || e.right.match(s) }

type relExpr struct {
	property string
	op       string
	value    string
}

func (e relExpr) match(s subject) bool {
	have := strings.ToLower(s.property(e.property))
	want := strings.ToLower(e.value)
	switch e.op {
	case "=":
		return have == want
	case "!=":
		return have != want
	case "<":
		return have < want
	case "<=":
		return have <= want
	case ">":
		return have > want
	case ">=":
		return have >= want
	case "contains":
		return strings.Contains(have, want)
	case "doesnotcontain":
		return !strings.Contains(have, want)
	case "derivedfrom":
		return strings.HasPrefix(have, want)
	default:
		return false
	}
}

type existsExpr struct {
	property string
	want     bool
}

func (e existsExpr) match(s subject) bool {
	return (s.property(e.property) != "") == e.want
}

// textQuery reports whether e is a plain text match that a catalog's native
// search can answer.
func textQuery(e expr) (string, bool) {
	switch v := e.(type) {
	case relExpr:
		if v.op == "contains" && textProperties[v.property] && strings.TrimSpace(v.value) != "" {
			return v.value, true
		}
	case orExpr:
		left, ok := textQuery(v.left)
		if !ok {
			return "", false
		}
		right, ok := textQuery(v.right)
		if !ok || !strings.EqualFold(left, right) {
			return "", false
		}
		return left, true
	}
	return "", false
}

// parseCriteria parses a UPnP ContentDirectory search expression.
func parseCriteria(input string) (expr, error) {
	if strings.TrimSpace(input) == "*" {
		return matchAll{}, nil
	}
	tokens, err := lexCriteria(input)
	if err != nil {
		return nil, core.Wrap(core.KindInvalidSearchCriteria, "search criteria", err)
	}
	if len(tokens) == 0 {
		return nil, core.Errorf(core.KindInvalidSearchCriteria, "empty search criteria")
	}
	p := &criteriaParser{tokens: tokens}
	out, err := p.parseOr()
	if err != nil {
		return nil, core.Wrap(core.KindInvalidSearchCriteria, "search criteria", err)
	}
	if p.pos != len(p.tokens) {
		return nil, core.Errorf(core.KindInvalidSearchCriteria, "unexpected %q", p.tokens[p.pos].text)
	}
	return out, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokOpen
	tokClose
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

func lexCriteria(input string) ([]token, error) {
	var out []token
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, token{kind: tokOpen, text: "("})
			i++
		case r == ')':
			out = append(out, token{kind: tokClose, text: ")"})
			i++
		case r == '"':
			var sb strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) {
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == '"' {
					closed = true
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string")
			}
			out = append(out, token{kind: tokString, text: sb.String()})
		case strings.ContainsRune("=!<>", r):
			op := string(r)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "!" {
				return nil, fmt.Errorf("unexpected '!'")
			}
			out = append(out, token{kind: tokOp, text: op})
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && !strings.ContainsRune(`()"=!<>`, runes[i]) {
				i++
			}
			out = append(out, token{kind: tokWord, text: string(runes[start:i])})
		}
	}
	return out, nil
}

type criteriaParser struct {
	tokens []token
	pos    int
}

func (p *criteriaParser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *criteriaParser) next() (token, error) {
	tok, ok := p.peek()
	if !ok {
		return token{}, fmt.Errorf("unexpected end of criteria")
	}
	p.pos++
	return tok, nil
}

func (p *criteriaParser) keyword(word string) bool {
	tok, ok := p.peek()
	if ok && tok.kind == tokWord && strings.EqualFold(tok.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *criteriaParser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *criteriaParser) parseAnd() (expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.keyword("and") {
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *criteriaParser) parsePrimary() (expr, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if tok.kind == tokOpen {
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, err := p.next()
		if err != nil || closing.kind != tokClose {
			return nil, fmt.Errorf("missing ')'")
		}
		return inner, nil
	}
	if tok.kind != tokWord {
		return nil, fmt.Errorf("expected property, got %q", tok.text)
	}
	property, ok := canonicalProperty(tok.text)
	if !ok {
		return nil, fmt.Errorf("unsupported property %q", tok.text)
	}
	opTok, err := p.next()
	if err != nil {
		return nil, err
	}
	op := strings.ToLower(opTok.text)
	switch {
	case opTok.kind == tokOp:
	case opTok.kind == tokWord && (op == "contains" || op == "doesnotcontain" || op == "derivedfrom"):
	case opTok.kind == tokWord && op == "exists":
		value, err := p.next()
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(value.text) {
		case "true":
			return existsExpr{property: property, want: true}, nil
		case "false":
			return existsExpr{property: property, want: false}, nil
		default:
			return nil, fmt.Errorf("exists needs true or false")
		}
	default:
		return nil, fmt.Errorf("unsupported operator %q", opTok.text)
	}
	value, err := p.next()
	if err != nil {
		return nil, err
	}
	if value.kind != tokString {
		return nil, fmt.Errorf("expected quoted value after %s", opTok.text)
	}
	return relExpr{property: property, op: op, value: value.text}, nil
}

func canonicalProperty(name string) (string, bool) {
	for _, prop := range searchProperties {
		if strings.EqualFold(prop, name) {
			return prop, true
		}
	}
	return "", false
}
