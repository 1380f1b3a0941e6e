package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v2"
)

// ReportSummary is the serialisable form of a Report. Tasks are listed in
// completion order.
type ReportSummary struct {
	Requested []string      `json:"requested" yaml:"requested"`
	Succeeded bool          `json:"succeeded" yaml:"succeeded"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Tasks     []TaskSummary `json:"tasks" yaml:"tasks"`
}

// TaskSummary captures one task outcome.
type TaskSummary struct {
	Name     string        `json:"name" yaml:"name"`
	Status   TaskStatus    `json:"status" yaml:"status"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    *ErrorSummary `json:"error,omitempty" yaml:"error,omitempty"`
}

// ErrorSummary flattens a task error. Code and Category come from the
// outermost pipeline error in the chain.
type ErrorSummary struct {
	Message  string         `json:"message" yaml:"message"`
	Code     string         `json:"code,omitempty" yaml:"code,omitempty"`
	Category string         `json:"category,omitempty" yaml:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ReportCodec allows custom serialization of build reports.
type ReportCodec interface {
	Marshal(ReportSummary) ([]byte, error)
}

type reportConfig struct {
	codec ReportCodec
}

// ReportOption customizes EncodeReport.
type ReportOption func(*reportConfig)

// WithReportCodec sets a custom codec for serialization.
func WithReportCodec(codec ReportCodec) ReportOption {
	return func(cfg *reportConfig) {
		if codec != nil {
			cfg.codec = codec
		}
	}
}

// Summary converts r for serialization.
func (r Report) Summary() ReportSummary {
	out := ReportSummary{
		Requested: append([]string(nil), r.Requested...),
		Succeeded: len(r.Failed()) == 0,
		Duration:  r.Duration,
		Tasks:     make([]TaskSummary, 0, len(r.Order)),
	}
	for _, name := range r.Order {
		res := r.Results[name]
		task := TaskSummary{
			Name:     name,
			Status:   res.Status,
			Duration: res.Duration,
		}
		if res.Err != nil {
			task.Error = summarizeError(res.Err)
		}
		if res.Status == StatusSkipped {
			out.Succeeded = false
		}
		out.Tasks = append(out.Tasks, task)
	}
	return out
}

func summarizeError(err error) *ErrorSummary {
	summary := &ErrorSummary{Message: err.Error()}

	var perr *errors.Error
	if errors.As(err, &perr) {
		summary.Code = perr.TextCode
		summary.Category = fmt.Sprint(perr.Category)
		if len(perr.Metadata) > 0 {
			summary.Metadata = make(map[string]any, len(perr.Metadata))
			for k, v := range perr.Metadata {
				if k == "stack" {
					continue
				}
				summary.Metadata[k] = v
			}
		}
	}
	return summary
}

// EncodeReport serialises the report, as JSON unless another codec is given.
func EncodeReport(report Report, opts ...ReportOption) ([]byte, error) {
	cfg := reportConfig{codec: JSONReportCodec{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	payload, err := cfg.codec.Marshal(report.Summary())
	if err != nil {
		return nil, chain(err, errors.CategoryInternal, CodeReportFailed, "failed to encode build report")
	}
	return payload, nil
}

// ReportCodecFor picks a codec from a file name: YAML for .yaml and .yml,
// JSON otherwise.
func ReportCodecFor(name string) ReportCodec {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return YAMLReportCodec{}
	default:
		return JSONReportCodec{}
	}
}

type JSONReportCodec struct{}

func (JSONReportCodec) Marshal(summary ReportSummary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

type YAMLReportCodec struct{}

func (YAMLReportCodec) Marshal(summary ReportSummary) ([]byte, error) {
	return yaml.Marshal(summary)
}

// WriteReport encodes report with the codec matching name and writes it
// atomically.
func WriteReport(name string, report Report) error {
	payload, err := EncodeReport(report, WithReportCodec(ReportCodecFor(name)))
	if err != nil {
		return err
	}
	return writeFileAtomic(name, payload)
}
