// Package render turns ranked node sets into subscription artifacts: Clash
// YAML, plain link lists and Base64 subscriptions.
package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/nodeprobe/internal/config"
	"github.com/John-Robertt/nodeprobe/internal/model"
	"github.com/John-Robertt/nodeprobe/internal/rank"
	"github.com/John-Robertt/nodeprobe/internal/sub"
)

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// Summary is written to summary.json next to the artifacts.
type Summary struct {
	Updated      string         `json:"updated"`
	Collected    int            `json:"collected"`
	Unique       int            `json:"unique"`
	Reachable    int            `json:"reachable"`
	Validated    int            `json:"validated"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
	Rejected     map[string]int `json:"rejected,omitempty"`
	PerProtocol  map[string]int `json:"per_protocol"`
}

// Artifact is one output file, Path relative to the output directory.
type Artifact struct {
	Path    string
	Content []byte
}

type Options struct {
	Formats    []string // config.Format* values; empty means all
	BatchSize  int      // default 20
	TopSingles int      // default rank.DefaultTopSingles
	TopBundle  int      // default rank.DefaultTopBundle

	// WithValidated adds proxy_validated.yaml; set it when validation ran.
	WithValidated bool
}

func (o Options) withDefaults() Options {
	if len(o.Formats) == 0 {
		o.Formats = []string{config.FormatClash, config.FormatBase64, config.FormatLinks}
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.TopSingles <= 0 {
		o.TopSingles = rank.DefaultTopSingles
	}
	if o.TopBundle <= 0 {
		o.TopBundle = rank.DefaultTopBundle
	}
	return o
}

func (o Options) has(format string) bool {
	return config.Output{Formats: o.Formats}.Has(format)
}

// Build lays out every artifact for sets. Layout:
//
//	proxy.yaml, proxy_validated.yaml, sub, summary.json
//	<proto>.yaml, <proto>_links.txt
//	groups/<proto>/<proto>_batch_<n>.yaml, groups/<proto>/<proto>_batch_<n>_links.txt
//	singles/<proto>/<proto>_single_<rank>.txt
//	top<N>/<proto>/<proto>_top<N>_links.txt
//
// Nodes that cannot be expressed in Clash YAML are left out of the YAML files
// and reported in the returned error; the artifacts are still complete.
func Build(sets, validated map[model.Protocol]model.RankedSet, sum Summary, opt Options) ([]Artifact, error) {
	opt = opt.withDefaults()

	var arts []Artifact
	var skipped error
	add := func(path string, b []byte) { arts = append(arts, Artifact{Path: path, Content: b}) }
	// Every node appears in proxy.yaml, so its errors cover all YAML files.
	addClash := func(path string, results []model.ProbeResult) {
		b, err := Clash(results)
		if path == "proxy.yaml" {
			skipped = err
		}
		add(path, b)
	}

	all := rank.Flatten(sets)
	if opt.has(config.FormatClash) {
		addClash("proxy.yaml", all)
		if opt.WithValidated {
			addClash("proxy_validated.yaml", rank.Flatten(validated))
		}
	}
	if opt.has(config.FormatBase64) {
		add("sub", []byte(Base64(Links(all))))
	}

	for _, proto := range model.Protocols() {
		set, ok := sets[proto]
		if !ok || set.Len() == 0 {
			continue
		}
		p := string(proto)

		if opt.has(config.FormatClash) {
			addClash(p+".yaml", set.Entries)
		}
		if opt.has(config.FormatLinks) {
			add(p+"_links.txt", []byte(Links(set.Entries)))
		}

		for i, batch := range batches(set.Entries, opt.BatchSize) {
			base := filepath.Join("groups", p, fmt.Sprintf("%s_batch_%d", p, i+1))
			if opt.has(config.FormatClash) {
				addClash(base+".yaml", batch)
			}
			if opt.has(config.FormatLinks) {
				add(base+"_links.txt", []byte(Links(batch)))
			}
		}

		if opt.has(config.FormatLinks) {
			for i, link := range sub.SerializeAll(records(rank.TopN(set, opt.TopSingles))) {
				add(filepath.Join("singles", p, fmt.Sprintf("%s_single_%d.txt", p, i+1)), []byte(link))
			}
			dir := fmt.Sprintf("top%d", opt.TopBundle)
			add(filepath.Join(dir, p, fmt.Sprintf("%s_top%d_links.txt", p, opt.TopBundle)), []byte(Links(rank.TopN(set, opt.TopBundle))))
		}
	}

	if sum.PerProtocol == nil {
		sum.PerProtocol = make(map[string]int, len(sets))
		for proto, s := range sets {
			sum.PerProtocol[string(proto)] = s.Len()
		}
	}
	b, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return nil, &RenderError{
			AppError: model.AppError{Code: "RENDER_FAILED", Message: "summary 序列化失败", Stage: "render"},
			Cause:    err,
		}
	}
	add("summary.json", append(b, '\n'))

	sort.SliceStable(arts, func(i, j int) bool { return arts[i].Path < arts[j].Path })
	return arts, skipped
}

// WriteDir writes artifacts below dir, creating directories as needed.
func WriteDir(dir string, arts []Artifact) error {
	for _, a := range arts {
		if a.Path == "" || filepath.IsAbs(a.Path) || strings.HasPrefix(filepath.Clean(a.Path), "..") {
			return &RenderError{
				AppError: model.AppError{Code: "INVALID_ARGUMENT", Message: "非法的输出路径", Stage: "render", Snippet: a.Path},
			}
		}
		p := filepath.Join(dir, a.Path)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return &RenderError{
				AppError: model.AppError{Code: "WRITE_FAILED", Message: "创建输出目录失败", Stage: "render", URL: p},
				Cause:    err,
			}
		}
		if err := os.WriteFile(p, a.Content, 0o644); err != nil {
			return &RenderError{
				AppError: model.AppError{Code: "WRITE_FAILED", Message: "写入输出文件失败", Stage: "render", URL: p},
				Cause:    err,
			}
		}
	}
	return nil
}

// Links renders one share link per line, skipping duplicates.
func Links(results []model.ProbeResult) string {
	return strings.Join(sub.SerializeAll(records(results)), "\n")
}

// Base64 encodes a link list as a standard subscription body.
func Base64(links string) string {
	return base64.StdEncoding.EncodeToString([]byte(links))
}

func records(results []model.ProbeResult) []model.NodeRecord {
	out := make([]model.NodeRecord, 0, len(results))
	for _, r := range results {
		out = append(out, r.Record)
	}
	return out
}

func batches(entries []model.ProbeResult, size int) [][]model.ProbeResult {
	var out [][]model.ProbeResult
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		out = append(out, entries[i:end])
	}
	return out
}
