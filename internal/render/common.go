package render

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

// parseSSObfsPlugin extracts the simple-obfs settings Clash understands.
//
// Supported: simple-obfs / obfs-local
// Required option: obfs=<mode>
// Optional: obfs-host=<host>
func parseSSObfsPlugin(c *model.SSCredential) (mode string, host string, err error) {
	if c.Plugin != "simple-obfs" && c.Plugin != "obfs-local" {
		return "", "", &RenderError{
			AppError: model.AppError{
				Code:    "UNSUPPORTED_PLUGIN",
				Message: fmt.Sprintf("不支持的 SS plugin：%s", c.Plugin),
				Stage:   "render",
				Snippet: c.Plugin,
			},
		}
	}

	for _, kv := range c.PluginOpts {
		switch strings.TrimSpace(kv.Key) {
		case "obfs":
			mode = strings.TrimSpace(kv.Value)
		case "obfs-host":
			host = strings.TrimSpace(kv.Value)
		}
	}
	if mode == "" {
		return "", "", &RenderError{
			AppError: model.AppError{
				Code:    "UNSUPPORTED_PLUGIN",
				Message: "simple-obfs/obfs-local 缺少必需选项 obfs=<mode>",
				Stage:   "render",
				Snippet: c.Plugin,
				Hint:    "example: ?plugin=simple-obfs;obfs=tls;obfs-host=example.com",
			},
		}
	}
	return mode, host, nil
}

// uniqueNames assigns every result a distinct display name. A repeated name
// becomes name-N with the smallest free N starting from 2.
func uniqueNames(results []model.ProbeResult) []string {
	used := make(map[string]struct{}, len(results))
	out := make([]string, len(results))
	for i, r := range results {
		base := r.Record.DisplayName()
		name := base
		if _, ok := used[name]; ok {
			for n := 2; ; n++ {
				try := fmt.Sprintf("%s-%d", base, n)
				if _, ok := used[try]; !ok {
					name = try
					break
				}
			}
		}
		out[i] = name
		used[name] = struct{}{}
	}
	return out
}
