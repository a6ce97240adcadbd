package render

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/nodeprobe/internal/config"
	"github.com/John-Robertt/nodeprobe/internal/model"
	"github.com/John-Robertt/nodeprobe/internal/sub"
)

func result(rec model.NodeRecord, latency float64) model.ProbeResult {
	return model.ProbeResult{Record: rec, Reachable: true, LatencyMs: latency}
}

func ssNode(host, name, password string) model.NodeRecord {
	return model.NodeRecord{
		Protocol: model.ProtoSS, Host: host, Port: 8388, Name: name,
		SS: &model.SSCredential{Cipher: "aes-128-gcm", Password: password},
	}
}

func socksNode(host string) model.NodeRecord {
	return model.NodeRecord{Protocol: model.ProtoSOCKS5, Host: host, Port: 1080}
}

func TestClash_PasswordQuotedAndPlugin(t *testing.T) {
	rec := ssNode("example.com", "n1", "123")
	rec.SS.Plugin = "simple-obfs"
	rec.SS.PluginOpts = []model.KV{{Key: "obfs", Value: "tls"}, {Key: "obfs-host", Value: "example.com"}}

	b, err := Clash([]model.ProbeResult{result(rec, 10)})
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, `password: "123"`)
	assert.Contains(t, out, "plugin: obfs")
	assert.Contains(t, out, "mode: tls")
	assert.Contains(t, out, "host: example.com")
}

func TestClash_UnsupportedPlugin(t *testing.T) {
	rec := ssNode("example.com", "n1", "pass")
	rec.SS.Plugin = "v2ray-plugin"

	b, err := Clash([]model.ProbeResult{result(rec, 10), result(socksNode("1.1.1.1"), 20)})
	var re *RenderError
	require.True(t, errors.As(err, &re), "expected *RenderError, got %T: %v", err, err)
	assert.Equal(t, "UNSUPPORTED_PLUGIN", re.AppError.Code)

	// The remaining node is still rendered.
	assert.Contains(t, string(b), "server: 1.1.1.1")
	assert.NotContains(t, string(b), "example.com")
}

func TestClash_UniqueNames(t *testing.T) {
	results := []model.ProbeResult{
		result(ssNode("a.test", "dup", "p"), 1),
		result(ssNode("b.test", "dup", "p"), 2),
		result(ssNode("c.test", "dup-2", "p"), 3),
	}
	assert.Equal(t, []string{"dup", "dup-2", "dup-2-2"}, uniqueNames(results))

	b, err := Clash(results)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(b), "name: dup\n"))
	assert.Equal(t, 1, strings.Count(string(b), "name: dup-2\n"))
}

func TestClash_HarvestsBack(t *testing.T) {
	vm := model.NodeRecord{
		Protocol: model.ProtoVMess, Host: "v.test", Port: 443, Name: "vm",
		VMess: &model.VMessCredential{
			UUID: "b831381d-6324-4d53-ad4f-8cda48b30811", Network: "ws", TLS: true,
			Path: "/ray", Host: "cdn.test",
		},
	}
	tr := model.NodeRecord{
		Protocol: model.ProtoTrojan, Host: "t.test", Port: 443, Name: "tr",
		Trojan: &model.TrojanCredential{Password: "secret", Params: []model.KV{{Key: "sni", Value: "t.test"}}},
	}
	ssr := model.NodeRecord{
		Protocol: model.ProtoSSR, Host: "r.test", Port: 9000, Name: "r",
		SSR: &model.SSRCredential{Cipher: "aes-256-cfb", Password: "pw", Protocol: "origin", Obfs: "plain"},
	}
	in := []model.NodeRecord{ssNode("s.test", "hk", "123"), vm, tr, ssr, socksNode("9.9.9.9")}

	var results []model.ProbeResult
	for _, r := range in {
		results = append(results, result(r, 5))
	}
	b, err := Clash(results)
	require.NoError(t, err)

	h := sub.Harvest(string(b))
	require.Empty(t, h.Rejected)
	require.Len(t, h.Records, len(in))
	for i, got := range h.Records {
		assert.Equal(t, in[i].Key(), got.Key())
		assert.Equal(t, in[i].DisplayName(), got.DisplayName())
	}
	assert.Equal(t, vm.VMess, h.Records[1].VMess)
	assert.Equal(t, tr.Trojan, h.Records[2].Trojan)
	assert.Equal(t, ssr.SSR, h.Records[3].SSR)
}

func TestClash_UnknownProtocolSkipped(t *testing.T) {
	bad := model.NodeRecord{Protocol: "wireguard", Host: "w.test", Port: 51820}
	b, err := Clash([]model.ProbeResult{result(bad, 1)})
	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "INVALID_ARGUMENT", re.AppError.Code)
	assert.Equal(t, "proxies: []\n", string(b))
}

func TestBuild_Layout(t *testing.T) {
	sets := map[model.Protocol]model.RankedSet{
		model.ProtoSS: {
			Protocol:  model.ProtoSS,
			Entries:   []model.ProbeResult{result(ssNode("a.test", "", "p"), 1), result(ssNode("b.test", "", "p"), 2)},
			TotalSeen: 2,
		},
		model.ProtoSOCKS5: {
			Protocol:  model.ProtoSOCKS5,
			Entries:   []model.ProbeResult{result(socksNode("1.2.3.4"), 3)},
			TotalSeen: 1,
		},
	}
	arts, err := Build(sets, nil, Summary{Collected: 4, Unique: 3, Reachable: 3}, Options{BatchSize: 1})
	require.NoError(t, err)

	var paths []string
	byPath := make(map[string]string)
	for _, a := range arts {
		paths = append(paths, a.Path)
		byPath[a.Path] = string(a.Content)
	}
	assert.True(t, sort.StringsAreSorted(paths))
	assert.ElementsMatch(t, []string{
		"proxy.yaml", "sub", "summary.json",
		"ss.yaml", "ss_links.txt",
		"groups/ss/ss_batch_1.yaml", "groups/ss/ss_batch_1_links.txt",
		"groups/ss/ss_batch_2.yaml", "groups/ss/ss_batch_2_links.txt",
		"singles/ss/ss_single_1.txt", "singles/ss/ss_single_2.txt",
		"top5/ss/ss_top5_links.txt",
		"socks5.yaml", "socks5_links.txt",
		"groups/socks5/socks5_batch_1.yaml", "groups/socks5/socks5_batch_1_links.txt",
		"singles/socks5/socks5_single_1.txt",
		"top5/socks5/socks5_top5_links.txt",
	}, paths)

	assert.Equal(t, "socks5://1.2.3.4:1080", byPath["singles/socks5/socks5_single_1.txt"])

	decoded, err := base64.StdEncoding.DecodeString(byPath["sub"])
	require.NoError(t, err)
	lines := strings.Split(string(decoded), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ss://"))
	assert.Equal(t, "socks5://1.2.3.4:1080", lines[2])

	var sum Summary
	require.NoError(t, json.Unmarshal([]byte(byPath["summary.json"]), &sum))
	assert.Equal(t, 4, sum.Collected)
	assert.Equal(t, map[string]int{"ss": 2, "socks5": 1}, sum.PerProtocol)
}

func TestBuild_FormatsAndValidated(t *testing.T) {
	ok := true
	r := result(socksNode("1.2.3.4"), 3)
	r.ProxyValidated = &ok
	sets := map[model.Protocol]model.RankedSet{
		model.ProtoSOCKS5: {Protocol: model.ProtoSOCKS5, Entries: []model.ProbeResult{r}, TotalSeen: 1},
	}

	arts, err := Build(sets, sets, Summary{}, Options{Formats: []string{config.FormatClash}, WithValidated: true})
	require.NoError(t, err)

	var paths []string
	for _, a := range arts {
		paths = append(paths, a.Path)
	}
	assert.ElementsMatch(t, []string{
		"proxy.yaml", "proxy_validated.yaml", "summary.json",
		"socks5.yaml", "groups/socks5/socks5_batch_1.yaml",
	}, paths)
}

func TestWriteDir(t *testing.T) {
	dir := t.TempDir()
	arts := []Artifact{
		{Path: "proxy.yaml", Content: []byte("proxies: []\n")},
		{Path: filepath.Join("groups", "ss", "ss_batch_1_links.txt"), Content: []byte("ss://x")},
	}
	require.NoError(t, WriteDir(dir, arts))

	b, err := os.ReadFile(filepath.Join(dir, "groups", "ss", "ss_batch_1_links.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ss://x", string(b))

	err = WriteDir(dir, []Artifact{{Path: "../escape.txt"}})
	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "INVALID_ARGUMENT", re.AppError.Code)
}

func TestLinks_SkipsDuplicates(t *testing.T) {
	r := result(socksNode("1.2.3.4"), 1)
	assert.Equal(t, "socks5://1.2.3.4:1080", Links([]model.ProbeResult{r, r}))
	assert.Equal(t, "YQpi", Base64("a\nb"))
}

func TestClash_GroupsAndRules(t *testing.T) {
	b, err := Clash([]model.ProbeResult{
		result(socksNode("1.1.1.1"), 1),
		result(ssNode("a.test", "hk", "p"), 2),
	})
	require.NoError(t, err)

	var doc struct {
		Groups []struct {
			Name      string   `yaml:"name"`
			Type      string   `yaml:"type"`
			Proxies   []string `yaml:"proxies"`
			Tolerance int      `yaml:"tolerance"`
		} `yaml:"proxy-groups"`
		Rules []string `yaml:"rules"`
	}
	require.NoError(t, yaml.Unmarshal(b, &doc))
	require.Len(t, doc.Groups, 2)
	assert.Equal(t, "AUTO", doc.Groups[0].Name)
	assert.Equal(t, "url-test", doc.Groups[0].Type)
	assert.Equal(t, []string{"SOCKS5_1.1.1.1_1080", "hk"}, doc.Groups[0].Proxies)
	assert.Equal(t, 50, doc.Groups[0].Tolerance)
	assert.Equal(t, []string{"AUTO", "SOCKS5_1.1.1.1_1080", "hk", "DIRECT"}, doc.Groups[1].Proxies)
	require.NotEmpty(t, doc.Rules)
	assert.Contains(t, doc.Rules, "IP-CIDR,192.168.0.0/16,DIRECT,no-resolve")
	assert.Contains(t, doc.Rules, "IP-CIDR6,fc00::/7,DIRECT,no-resolve")
	assert.Equal(t, "MATCH,PROXY", doc.Rules[len(doc.Rules)-1])
	for _, r := range doc.Rules[:len(doc.Rules)-1] {
		assert.True(t, strings.HasSuffix(r, ",DIRECT,no-resolve"), r)
	}
}

func TestRuleToClashString(t *testing.T) {
	assert.Equal(t, "MATCH,PROXY", ruleToClashString(model.Rule{Type: "MATCH", Action: "PROXY"}))
	assert.Equal(t, "IP-CIDR,10.0.0.0/8,DIRECT,no-resolve",
		ruleToClashString(model.Rule{Type: "IP-CIDR", Value: "10.0.0.0/8", Action: "DIRECT", NoResolve: true}))
}
