package notify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultTemplate is used when a rule carries no template.
const DefaultTemplate = "[{severity}] {rule_name} on {machine_id}: state={state} rpm={rpm} feed={feed_rate}"

// ErrTemplateRender indicates a template could not be parsed or rendered.
var ErrTemplateRender = errors.New("alarm template: render failed")

// TemplateData provides the fields a message template may reference.
type TemplateData struct {
	MachineID       string
	RuleName        string
	RPM             float64
	FeedRate        float64
	State           string
	DurationSeconds float64
	Severity        string
}

func (d TemplateData) field(name string) (any, bool) {
	switch name {
	case "machine_id":
		return d.MachineID, true
	case "rule_name":
		return d.RuleName, true
	case "rpm":
		return d.RPM, true
	case "feed_rate", "feed_mm_min":
		return d.FeedRate, true
	case "state":
		return d.State, true
	case "duration_seconds":
		return d.DurationSeconds, true
	case "duration_min":
		return d.DurationSeconds / 60, true
	case "severity":
		return d.Severity, true
	}
	return nil, false
}

type segment struct {
	literal   string
	field     string
	precision int
}

// Template renders {field} placeholders. A placeholder may carry a fixed
// precision, e.g. {duration_min:.1f}. Braces are escaped by doubling.
type Template struct {
	segments []segment
}

// NewTemplate parses a message template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	var (
		out []segment
		lit strings.Builder
	)
	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		switch {
		case c == '{' && i+1 < len(tpl) && tpl[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tpl) && tpl[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tpl[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed placeholder at %d", ErrTemplateRender, i)
			}
			seg, err := parsePlaceholder(tpl[i+1 : i+end])
			if err != nil {
				return nil, err
			}
			if lit.Len() > 0 {
				out = append(out, segment{literal: lit.String()})
				lit.Reset()
			}
			out = append(out, seg)
			i += end
		case c == '}':
			return nil, fmt.Errorf("%w: single '}' at %d", ErrTemplateRender, i)
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		out = append(out, segment{literal: lit.String()})
	}
	return &Template{segments: out}, nil
}

func parsePlaceholder(body string) (segment, error) {
	name, spec, hasSpec := strings.Cut(body, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return segment{}, fmt.Errorf("%w: empty placeholder", ErrTemplateRender)
	}
	seg := segment{field: name, precision: -1}
	if !hasSpec {
		return seg, nil
	}
	if !strings.HasPrefix(spec, ".") || !strings.HasSuffix(spec, "f") {
		return segment{}, fmt.Errorf("%w: unsupported format %q", ErrTemplateRender, spec)
	}
	precision, err := strconv.Atoi(spec[1 : len(spec)-1])
	if err != nil || precision < 0 {
		return segment{}, fmt.Errorf("%w: unsupported format %q", ErrTemplateRender, spec)
	}
	seg.precision = precision
	return seg, nil
}

// Render applies the template to data. Unknown fields fail.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: nil template", ErrTemplateRender)
	}
	var sb strings.Builder
	for _, seg := range t.segments {
		if seg.field == "" {
			sb.WriteString(seg.literal)
			continue
		}
		v, ok := data.field(seg.field)
		if !ok {
			return "", fmt.Errorf("%w: unknown field %q", ErrTemplateRender, seg.field)
		}
		switch v := v.(type) {
		case float64:
			sb.WriteString(strconv.FormatFloat(v, 'f', seg.precision, 64))
		case string:
			if seg.precision >= 0 {
				return "", fmt.Errorf("%w: numeric format on %q", ErrTemplateRender, seg.field)
			}
			sb.WriteString(v)
		}
	}
	return sb.String(), nil
}

// FormatMessage renders tpl, returning a fallback message together with the
// error when the template cannot be rendered.
func FormatMessage(tpl string, data TemplateData) (string, error) {
	t, err := NewTemplate(tpl)
	if err == nil {
		var msg string
		if msg, err = t.Render(data); err == nil {
			return msg, nil
		}
	}
	return fmt.Sprintf("%s alert: %s (template error: %v)", data.MachineID, data.RuleName, err), err
}
