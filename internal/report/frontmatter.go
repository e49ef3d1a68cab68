package report

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("report: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("report: malformed frontmatter")
)

const timeLayout = time.RFC3339

// Summary is the metadata block stored at the top of summary.md.
type Summary struct {
	RunID     string
	Playbook  string
	CheckMode bool
	Created   time.Time
	Hosts     []string
	Failed    []string
}

type convergeEnvelope struct {
	Converge convergeSummary `yaml:"converge"`
}

type convergeSummary struct {
	Run       string   `yaml:"run"`
	Playbook  string   `yaml:"playbook"`
	CheckMode bool     `yaml:"check_mode,omitempty"`
	Created   string   `yaml:"created"`
	Hosts     []string `yaml:"hosts,omitempty"`
	Failed    []string `yaml:"failed,omitempty"`
}

// ParseFrontMatter extracts the summary block and body from a document that
// starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Summary, []byte, error) {
	if len(content) == 0 {
		return Summary{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Summary{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Summary{}, nil, ErrMalformedFrontMatter
	}
	var envelope convergeEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Summary{}, nil, fmt.Errorf("report: parse frontmatter: %w", err)
	}
	if envelope.Converge.Run == "" || envelope.Converge.Playbook == "" {
		return Summary{}, nil, ErrMalformedFrontMatter
	}
	created, err := time.Parse(timeLayout, envelope.Converge.Created)
	if err != nil {
		return Summary{}, nil, fmt.Errorf("report: parse created timestamp: %w", err)
	}
	summary := Summary{
		RunID:     envelope.Converge.Run,
		Playbook:  envelope.Converge.Playbook,
		CheckMode: envelope.Converge.CheckMode,
		Created:   created,
		Hosts:     append([]string{}, envelope.Converge.Hosts...),
		Failed:    append([]string{}, envelope.Converge.Failed...),
	}
	return summary, parts[1], nil
}

// WriteFrontMatter renders the summary metadata + body with YAML fences.
func WriteFrontMatter(summary Summary, body []byte) ([]byte, error) {
	if summary.RunID == "" {
		return nil, fmt.Errorf("report: summary missing run id")
	}
	envelope := convergeEnvelope{
		Converge: convergeSummary{
			Run:       summary.RunID,
			Playbook:  summary.Playbook,
			CheckMode: summary.CheckMode,
			Created:   summary.Created.UTC().Format(timeLayout),
			Hosts:     append([]string{}, summary.Hosts...),
			Failed:    append([]string{}, summary.Failed...),
		},
	}
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("report: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

func normalizeNewlines(content []byte) []byte {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(content, []byte("\r"), []byte("\n"))
}
