package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleData = TemplateData{
	MachineID:       "CNC-1",
	RuleName:        "spindle_stalled",
	RPM:             0,
	FeedRate:        1200.5,
	State:           "running",
	DurationSeconds: 90,
	Severity:        "critical",
}

func TestDefaultTemplate(t *testing.T) {
	tpl, err := NewTemplate("")
	require.NoError(t, err)

	msg, err := tpl.Render(sampleData)
	require.NoError(t, err)
	assert.Equal(t, "[critical] spindle_stalled on CNC-1: state=running rpm=0 feed=1200.5", msg)
}

func TestTemplatePrecisionAndEscapes(t *testing.T) {
	tpl, err := NewTemplate("{{{machine_id}}} stalled for {duration_min:.1f} min")
	require.NoError(t, err)

	msg, err := tpl.Render(sampleData)
	require.NoError(t, err)
	assert.Equal(t, "{CNC-1} stalled for 1.5 min", msg)
}

func TestTemplateErrors(t *testing.T) {
	for _, src := range []string{"{machine_id", "oops }", "{rpm:d}", "{}"} {
		_, err := NewTemplate(src)
		assert.ErrorIs(t, err, ErrTemplateRender, src)
	}

	tpl, err := NewTemplate("{operator} on {machine_id}")
	require.NoError(t, err)
	_, err = tpl.Render(sampleData)
	assert.ErrorIs(t, err, ErrTemplateRender)
}

func TestFormatMessageFallback(t *testing.T) {
	msg, err := FormatMessage("{operator} on {machine_id}", sampleData)
	require.ErrorIs(t, err, ErrTemplateRender)
	assert.Contains(t, msg, "CNC-1 alert: spindle_stalled (template error: ")

	msg, err = FormatMessage("{machine_id}: {state}", sampleData)
	require.NoError(t, err)
	assert.Equal(t, "CNC-1: running", msg)
}
