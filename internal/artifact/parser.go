// Package artifact turns model output in the boltArtifact envelope into
// scaffolding steps.
//
//	<boltArtifact id="project-import" title="Project Files">
//	  <boltAction type="file" filePath="src/App.tsx">...</boltAction>
//	  <boltAction type="shell">npm install</boltAction>
//	</boltArtifact>
//
// Text between recognized elements is ignored, and action bodies are kept
// verbatim apart from surrounding whitespace.
package artifact

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/example/site-scaffolder/internal/logging"
	"github.com/example/site-scaffolder/internal/models"
)

const (
	artifactTag = "boltArtifact"
	actionTag   = "boltAction"

	actionFile  = "file"
	actionShell = "shell"
)

// Result is everything recovered from one response.
type Result struct {
	ID       string
	Title    string
	Steps    []models.Step
	Warnings []error
}

// Found reports whether the envelope was present.
func (r Result) Found() bool { return r.ID != "" }

type Parser struct {
	logger *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	return &Parser{logger: logging.OrNop(logger)}
}

var defaultParser = NewParser(nil)

// Parse is ParseArtifact without the diagnostics, which are dropped.
func Parse(raw string) []models.Step {
	return defaultParser.ParseArtifact(raw).Steps
}

// Parse returns the steps of raw in document order. It never fails: an
// absent envelope yields an empty slice.
func (p *Parser) Parse(raw string) []models.Step {
	return p.ParseArtifact(raw).Steps
}

func (p *Parser) ParseArtifact(raw string) Result {
	var res Result
	warn := func(err error) {
		res.Warnings = append(res.Warnings, err)
		p.logger.Warn("artifact parse warning", zap.Error(err))
	}

	text := stripFence(raw)

	open := indexTag(text, artifactTag, 0)
	if open < 0 {
		warn(&ParseWarning{Offset: 0, Reason: "no " + artifactTag + " element found"})
		return res
	}
	openEnd := tagEnd(text, open+1)
	if openEnd < 0 {
		warn(&ParseWarning{Offset: open, Reason: "unterminated " + artifactTag + " tag"})
		return res
	}
	attrs := tagAttrs(text[open : openEnd+1])
	id, title := attrs["id"], attrs["title"]
	if id == "" || title == "" {
		warn(&ParseWarning{Offset: open, Reason: artifactTag + " requires id and title attributes"})
		return res
	}
	closeTag := "</" + artifactTag + ">"
	bodyEnd := strings.Index(text[openEnd+1:], closeTag)
	if bodyEnd < 0 {
		warn(&ParseWarning{Offset: open, Reason: "missing " + closeTag})
		return res
	}
	res.ID, res.Title = id, title

	body := text[openEnd+1 : openEnd+1+bodyEnd]
	for i, a := range scanActions(body, openEnd+1, warn) {
		step, verr := a.step()
		if verr != nil {
			verr.Action = i + 1
			warn(verr)
			continue
		}
		if step == nil {
			p.logger.Debug("ignoring action with unrecognized type", zap.String("type", a.typ))
			continue
		}
		step.ID = len(res.Steps) + 1
		res.Steps = append(res.Steps, *step)
	}
	if res.Steps == nil {
		res.Steps = []models.Step{}
	}
	return res
}

type action struct {
	typ   string
	attrs map[string]string
	body  string
}

func (a action) step() (*models.Step, *ValidationError) {
	content := strings.TrimSpace(a.body)
	switch a.typ {
	case actionFile:
		path, ok := a.attrs["filepath"]
		if !ok {
			return nil, &ValidationError{Type: a.typ, Reason: "missing filePath attribute"}
		}
		if len(splitPath(path)) == 0 {
			return nil, &ValidationError{Type: a.typ, Reason: "filePath " + quote(path) + " has no segments"}
		}
		return &models.Step{
			Kind:        models.KindCreateFile,
			Title:       "Create `" + baseName(path) + "`",
			Description: "Create file at path " + path,
			Status:      models.StatusPending,
			Path:        path,
			Content:     content,
		}, nil
	case actionShell:
		return &models.Step{
			Kind:        models.KindRunScript,
			Title:       "Run command",
			Description: "Execute: " + content,
			Status:      models.StatusPending,
			Content:     content,
		}, nil
	default:
		return nil, nil
	}
}

// scanActions walks the artifact body. An action whose closing tag never
// arrives is skipped; if another action starts first, the open one is
// abandoned and scanning resumes at the new start tag.
func scanActions(body string, base int, warn func(error)) []action {
	var out []action
	closeTag := "</" + actionTag + ">"
	pos := 0
	for {
		start := indexTag(body, actionTag, pos)
		if start < 0 {
			return out
		}
		end := tagEnd(body, start+1)
		if end < 0 {
			warn(&ParseWarning{Offset: base + start, Reason: "unterminated " + actionTag + " tag"})
			return out
		}
		tag := body[start : end+1]
		attrs := tagAttrs(tag)
		a := action{typ: attrs["type"], attrs: attrs}

		if strings.HasSuffix(tag, "/>") {
			out = append(out, a)
			pos = end + 1
			continue
		}

		closeAt := strings.Index(body[end+1:], closeTag)
		next := indexTag(body, actionTag, end+1)
		if closeAt < 0 {
			warn(&ParseWarning{Offset: base + start, Reason: "missing " + closeTag})
			if next < 0 {
				return out
			}
			pos = next
			continue
		}
		closeAt += end + 1
		if next >= 0 && next < closeAt {
			warn(&ParseWarning{Offset: base + start, Reason: actionTag + " not closed before the next action"})
			pos = next
			continue
		}
		a.body = body[end+1 : closeAt]
		out = append(out, a)
		pos = closeAt + len(closeTag)
	}
}

// indexTag finds "<name" at or after from where name is followed by a tag
// boundary, so "<boltActionX" does not match "boltAction".
func indexTag(s, name string, from int) int {
	marker := "<" + name
	for from <= len(s) {
		i := strings.Index(s[from:], marker)
		if i < 0 {
			return -1
		}
		i += from
		j := i + len(marker)
		if j == len(s) {
			return -1
		}
		switch s[j] {
		case ' ', '\t', '\n', '\r', '\f', '>', '/':
			return i
		}
		from = j
	}
	return -1
}

// tagEnd returns the index of the '>' closing the tag that starts before
// from, skipping quoted attribute values.
func tagEnd(s string, from int) int {
	var q byte
	for i := from; i < len(s); i++ {
		c := s[i]
		switch {
		case q != 0:
			if c == q {
				q = 0
			}
		case c == '"' || c == '\'':
			q = c
		case c == '>':
			return i
		}
	}
	return -1
}

// tagAttrs lexes a single start tag. Keys come back lower-cased, values
// exactly as written between the quotes, and the first occurrence of a key
// wins.
func tagAttrs(tag string) map[string]string {
	attrs := map[string]string{}
	z := html.NewTokenizer(strings.NewReader(tag))
	switch z.Next() {
	case html.StartTagToken, html.SelfClosingTagToken:
	default:
		return attrs
	}
	s := strings.TrimSuffix(strings.TrimPrefix(tag, "<"), ">")
	i := strings.IndexAny(s, " \t\r\n\f")
	if i < 0 {
		return attrs
	}
	for i < len(s) {
		for i < len(s) && (isTagSpace(s[i]) || s[i] == '/') {
			i++
		}
		start := i
		for i < len(s) && !isTagSpace(s[i]) && s[i] != '=' && s[i] != '/' {
			i++
		}
		key := strings.ToLower(s[start:i])
		for i < len(s) && isTagSpace(s[i]) {
			i++
		}
		var val string
		if i < len(s) && s[i] == '=' {
			i++
			for i < len(s) && isTagSpace(s[i]) {
				i++
			}
			if i < len(s) && (s[i] == '"' || s[i] == '\'') {
				q := s[i]
				end := strings.IndexByte(s[i+1:], q)
				if end < 0 {
					val, i = s[i+1:], len(s)
				} else {
					val, i = s[i+1:i+1+end], i+2+end
				}
			} else {
				vs := i
				for i < len(s) && !isTagSpace(s[i]) {
					i++
				}
				val = s[vs:i]
			}
		}
		if key == "" {
			continue
		}
		if _, seen := attrs[key]; !seen {
			attrs[key] = val
		}
	}
	return attrs
}

func isTagSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f'
}

// stripFence removes a leading ``` (with optional language hint) and a
// trailing ``` around the response.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		t = strings.TrimLeftFunc(t, isHintRune)
	}
	t = strings.TrimSpace(t)
	if strings.HasSuffix(t, "```") {
		t = strings.TrimSuffix(t, "```")
	}
	return strings.TrimSpace(t)
}

func isHintRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '+'
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func baseName(p string) string {
	parts := strings.Split(p, "/")
	if last := parts[len(parts)-1]; last != "" {
		return last
	}
	return "file"
}

func quote(s string) string { return `"` + s + `"` }
