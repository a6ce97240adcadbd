package render

import (
	"strings"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

const (
	groupAuto  = "AUTO"
	groupProxy = "PROXY"

	autoTestURL     = "http://www.gstatic.com/generate_204"
	autoIntervalSec = 300
	autoToleranceMS = 50
)

// groups builds the two policy groups every Clash document carries: AUTO
// picks the fastest member, PROXY lets the user override it. Clash rejects
// empty groups, so no nodes means no groups.
func groups(names []string) []model.Group {
	if len(names) == 0 {
		return nil
	}
	sel := make([]string, 0, len(names)+2)
	sel = append(sel, groupAuto)
	sel = append(sel, names...)
	sel = append(sel, "DIRECT")
	return []model.Group{
		{
			Name:         groupAuto,
			Type:         "url-test",
			Members:      names,
			TestURL:      autoTestURL,
			IntervalSec:  autoIntervalSec,
			ToleranceMS:  autoToleranceMS,
			HasTolerance: true,
		},
		{Name: groupProxy, Type: "select", Members: sel},
	}
}

// directCIDRs never go through a proxy: loopback, private and link-local ranges.
var directCIDRs = []struct{ typ, cidr string }{
	{"IP-CIDR", "127.0.0.0/8"},
	{"IP-CIDR", "10.0.0.0/8"},
	{"IP-CIDR", "172.16.0.0/12"},
	{"IP-CIDR", "192.168.0.0/16"},
	{"IP-CIDR", "169.254.0.0/16"},
	{"IP-CIDR6", "::1/128"},
	{"IP-CIDR6", "fc00::/7"},
	{"IP-CIDR6", "fe80::/10"},
}

// rules keeps local traffic direct and sends everything else to PROXY.
func rules(gs []model.Group) []model.Rule {
	if len(gs) == 0 {
		return nil
	}
	out := make([]model.Rule, 0, len(directCIDRs)+1)
	for _, d := range directCIDRs {
		out = append(out, model.Rule{Type: d.typ, Value: d.cidr, Action: "DIRECT", NoResolve: true})
	}
	return append(out, model.Rule{Type: "MATCH", Action: groupProxy})
}

type clashGroup struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Proxies   []string `yaml:"proxies"`
	URL       string   `yaml:"url,omitempty"`
	Interval  int      `yaml:"interval,omitempty"`
	Tolerance *int     `yaml:"tolerance,omitempty"`
}

func toClashGroup(g model.Group) clashGroup {
	out := clashGroup{Name: g.Name, Type: g.Type, Proxies: g.Members}
	if g.Type == "url-test" {
		out.URL = g.TestURL
		out.Interval = g.IntervalSec
		if g.HasTolerance {
			tol := g.ToleranceMS
			out.Tolerance = &tol
		}
	}
	return out
}

func ruleToClashString(r model.Rule) string {
	if r.Type == "MATCH" {
		return "MATCH," + r.Action
	}
	parts := []string{r.Type, r.Value, r.Action}
	if r.NoResolve {
		parts = append(parts, "no-resolve")
	}
	return strings.Join(parts, ",")
}
