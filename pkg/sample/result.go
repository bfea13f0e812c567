package sample

import (
	"github.com/openaddresses/submit-service-sub000/pkg/ingest/core"
)

// Conform describes how the sampled data should be read.
type Conform struct {
	Type     string `json:"type"`
	CSVSplit string `json:"csvsplit,omitempty"`
	File     string `json:"file,omitempty"`
}

// Result is the preview returned for a source.
type Result struct {
	Coverage map[string]interface{} `json:"coverage"`
	Note     string                 `json:"note"`
	Data     string                 `json:"data"`
	Protocol string                 `json:"protocol"`
	Conform  Conform                `json:"conform"`
	Fields   []string               `json:"fields"`
	Records  []core.Record          `json:"records"`
}

func newResult(src core.SourceDescriptor) *Result {
	r := &Result{
		Coverage: map[string]interface{}{},
		Data:     src.String(),
		Protocol: src.Protocol(),
		Fields:   []string{},
		Records:  []core.Record{},
	}
	if src.Format() != core.FormatUnknown {
		r.setConform(src.Format(), src.Delimiter(), "")
	}
	return r
}

func (r *Result) setConform(f core.Format, delimiter rune, file string) {
	r.Conform = Conform{Type: f.ConformType(), File: file}
	if f == core.FormatDelimited && delimiter != 0 && delimiter != ',' {
		r.Conform.CSVSplit = string(delimiter)
	}
}
