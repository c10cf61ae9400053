package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/retrainer/pkg/workflow"
)

type sampleRow struct {
	Name    string           `json:"name"`
	Outcome workflow.Outcome `json:"outcome"`
	Score   float64          `json:"score,omitempty"`
	Hidden  string           `json:"-"`
	secret  string
}

func TestFormatOutput(t *testing.T) {
	row := sampleRow{Name: "cycle-1", Outcome: workflow.OutcomeDeployed, Score: 0.9, Hidden: "x", secret: "y"}

	tests := []struct {
		name     string
		format   OutputFormat
		contains []string
		absent   []string
	}{
		{name: "json", format: OutputJSON, contains: []string{`"name": "cycle-1"`, `"outcome": "deployed"`}, absent: []string{"Hidden", "secret"}},
		{name: "yaml", format: OutputYAML, contains: []string{"name: cycle-1", "outcome: deployed"}},
		{name: "table", format: OutputTable, contains: []string{"name:", "cycle-1", "deployed", "0.9"}, absent: []string{"Hidden", "secret"}},
		{name: "unknown falls back to table", format: "xml", contains: []string{"name:"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := FormatOutput(row, tt.format)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestFormatJSON_Error(t *testing.T) {
	_, err := formatJSON(make(chan int))
	assert.Error(t, err)
}

func TestFormatTable(t *testing.T) {
	t.Run("slice renders header and rows", func(t *testing.T) {
		out := formatTable([]sampleRow{
			{Name: "cycle-1", Outcome: workflow.OutcomeNoop},
			{Name: "cycle-2", Outcome: workflow.OutcomeAlerted, Score: 0.5},
		})
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[0], "NAME"))
		assert.Contains(t, lines[0], "OUTCOME")
		assert.True(t, strings.HasPrefix(lines[1], "----"))
		assert.Contains(t, lines[3], "alerted")
		assert.Contains(t, lines[3], "0.5")
	})

	t.Run("empty slice", func(t *testing.T) {
		assert.Equal(t, "No results\n", formatTable([]sampleRow{}))
	})

	t.Run("record skips empty fields", func(t *testing.T) {
		out := formatTable(&sampleRow{Name: "cycle-1"})
		assert.Contains(t, out, "name:")
		assert.NotContains(t, out, "outcome")
	})

	t.Run("map", func(t *testing.T) {
		out := formatTable(map[string]any{"total": 3})
		assert.Contains(t, out, "total:")
		assert.Contains(t, out, "3")
	})

	t.Run("slice of maps", func(t *testing.T) {
		out := formatTable([]map[string]string{{"value": "a"}})
		assert.Contains(t, out, "VALUE")
		assert.Contains(t, out, "a")
	})

	t.Run("nil and scalars", func(t *testing.T) {
		var nilRow *sampleRow
		assert.Empty(t, formatTable(nil))
		assert.Empty(t, formatTable(nilRow))
		assert.Equal(t, "42\n", formatTable(42))
	})
}

func TestFormatValue(t *testing.T) {
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	name := "ptr"

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"named string", workflow.DecisionApprove, string(workflow.DecisionApprove)},
		{"pointer", &name, "ptr"},
		{"nil pointer", (*string)(nil), ""},
		{"int", 7, "7"},
		{"uint8", uint8(3), "3"},
		{"float", 0.91234, "0.9123"},
		{"bool", true, "true"},
		{"duration", 1500 * time.Millisecond, "1.5s"},
		{"time", when, formatTime(when)},
		{"zero time", time.Time{}, ""},
		{"stringer", workflow.Metrics{"accuracy": 0.9}, workflow.Metrics{"accuracy": 0.9}.String()},
		{"composite", []int{1, 2}, "[1,2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.value))
		})
	}
}

func TestColumnName(t *testing.T) {
	cols := columnsOf(reflect.ValueOf(sampleRow{}))
	assert.Equal(t, []string{"name", "outcome", "score"}, cols)
	assert.Equal(t, []string{"value"}, columnsOf(reflect.ValueOf("plain")))
}

func TestPrintOutput(t *testing.T) {
	t.Run("writes", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, PrintOutput(map[string]int{"a": 1}, &OutputOptions{Format: OutputJSON, Writer: buf}))

		var got map[string]int
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, 1, got["a"])
	})

	t.Run("quiet", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, PrintOutput("x", &OutputOptions{Format: OutputTable, Quiet: true, Writer: buf}))
		assert.Empty(t, buf.String())
	})

	t.Run("marshal error", func(t *testing.T) {
		err := PrintOutput(make(chan int), &OutputOptions{Format: OutputJSON, Writer: &bytes.Buffer{}})
		assert.Error(t, err)
	})
}

func TestPrintError(t *testing.T) {
	err := errors.New("bucket not found")

	t.Run("table", func(t *testing.T) {
		buf := &bytes.Buffer{}
		PrintError(err, &OutputOptions{Format: OutputTable, ErrWriter: buf})
		assert.Equal(t, "Error: bucket not found\n", buf.String())
	})

	t.Run("json envelope", func(t *testing.T) {
		buf := &bytes.Buffer{}
		PrintError(err, &OutputOptions{Format: OutputJSON, ErrWriter: buf})

		var got struct {
			Success bool              `json:"success"`
			Error   map[string]string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.False(t, got.Success)
		assert.Equal(t, "bucket not found", got.Error["message"])
	})

	t.Run("yaml envelope", func(t *testing.T) {
		buf := &bytes.Buffer{}
		PrintError(err, &OutputOptions{Format: OutputYAML, ErrWriter: buf})
		assert.Contains(t, buf.String(), "success: false")
		assert.Contains(t, buf.String(), "message: bucket not found")
	})
}

func TestPrintSuccess(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{OutputTable, "Alert a1 is resolved\n"},
		{OutputJSON, `"success": true`},
		{OutputYAML, "success: true"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			buf := &bytes.Buffer{}
			PrintSuccess("Alert a1 is resolved", &OutputOptions{Format: tt.format, Writer: buf})
			assert.Contains(t, buf.String(), tt.want)
		})
	}

	t.Run("quiet", func(t *testing.T) {
		buf := &bytes.Buffer{}
		PrintSuccess("done", &OutputOptions{Format: OutputTable, Quiet: true, Writer: buf})
		assert.Empty(t, buf.String())
	})
}

func TestNewOutputOptions(t *testing.T) {
	opts := NewOutputOptions()
	assert.Equal(t, OutputTable, opts.Format)
	assert.False(t, opts.Quiet)
	assert.NotNil(t, opts.Writer)
	assert.NotNil(t, opts.ErrWriter)
}
