package render

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

type clashDoc struct {
	Proxies     []clashProxy `yaml:"proxies"`
	ProxyGroups []clashGroup `yaml:"proxy-groups,omitempty"`
	Rules       []string     `yaml:"rules,omitempty"`
}

type clashProxy struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`

	Cipher        string `yaml:"cipher,omitempty"`
	Password      string `yaml:"password,omitempty"`
	UUID          string `yaml:"uuid,omitempty"`
	AlterID       *int   `yaml:"alterId,omitempty"`
	Protocol      string `yaml:"protocol,omitempty"`
	ProtocolParam string `yaml:"protocol-param,omitempty"`
	Obfs          string `yaml:"obfs,omitempty"`
	ObfsParam     string `yaml:"obfs-param,omitempty"`

	Plugin     string            `yaml:"plugin,omitempty"`
	PluginOpts map[string]string `yaml:"plugin-opts,omitempty"`

	Network        string  `yaml:"network,omitempty"`
	TLS            bool    `yaml:"tls,omitempty"`
	Flow           string  `yaml:"flow,omitempty"`
	SNI            string  `yaml:"sni,omitempty"`
	ServerName     string  `yaml:"servername,omitempty"`
	SkipCertVerify bool    `yaml:"skip-cert-verify,omitempty"`
	UDP            bool    `yaml:"udp,omitempty"`
	WSOpts         *wsOpts `yaml:"ws-opts,omitempty"`
}

type wsOpts struct {
	Path    string            `yaml:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Clash renders results as a Clash config: proxies, the AUTO/PROXY groups and
// a catch-all rule. Names are made unique in input order. Nodes that cannot be
// expressed are skipped; the returned error lists them while the YAML stays
// usable.
func Clash(results []model.ProbeResult) ([]byte, error) {
	names := uniqueNames(results)

	doc := clashDoc{Proxies: make([]clashProxy, 0, len(results))}
	var skipped error
	rendered := make([]string, 0, len(results))
	for i, r := range results {
		p, err := toClash(r.Record, names[i])
		if err != nil {
			skipped = multierr.Append(skipped, err)
			continue
		}
		doc.Proxies = append(doc.Proxies, p)
		rendered = append(rendered, p.Name)
	}

	gs := groups(rendered)
	for _, g := range gs {
		doc.ProxyGroups = append(doc.ProxyGroups, toClashGroup(g))
	}
	for _, r := range rules(gs) {
		doc.Rules = append(doc.Rules, ruleToClashString(r))
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, &RenderError{
			AppError: model.AppError{Code: "RENDER_FAILED", Message: "Clash YAML 序列化失败", Stage: "render"},
			Cause:    err,
		}
	}
	return b, skipped
}

func toClash(r model.NodeRecord, name string) (clashProxy, error) {
	p := clashProxy{Name: name, Server: r.Host, Port: r.Port}
	switch r.Protocol {
	case model.ProtoSS, model.ProtoSIP002:
		if r.SS == nil {
			return clashProxy{}, missingCredential(r)
		}
		p.Type = "ss"
		p.Cipher = strings.ToLower(r.SS.Cipher)
		p.Password = r.SS.Password
		p.UDP = true
		if r.SS.Plugin != "" {
			mode, host, err := parseSSObfsPlugin(r.SS)
			if err != nil {
				return clashProxy{}, err
			}
			p.Plugin = "obfs"
			p.PluginOpts = map[string]string{"mode": mode}
			if host != "" {
				p.PluginOpts["host"] = host
			}
		}
	case model.ProtoSSR:
		if r.SSR == nil {
			return clashProxy{}, missingCredential(r)
		}
		p.Type = "ssr"
		p.Cipher = r.SSR.Cipher
		p.Password = r.SSR.Password
		p.Protocol = r.SSR.Protocol
		p.ProtocolParam = r.SSR.ProtoParam
		p.Obfs = r.SSR.Obfs
		p.ObfsParam = r.SSR.ObfsParam
		p.UDP = true
	case model.ProtoVMess:
		if r.VMess == nil {
			return clashProxy{}, missingCredential(r)
		}
		aid := r.VMess.AlterID
		p.Type = "vmess"
		p.UUID = r.VMess.UUID
		p.AlterID = &aid
		p.Cipher = "auto"
		p.TLS = r.VMess.TLS
		p.Network = r.VMess.Network
		if r.VMess.Network == "ws" && (r.VMess.Path != "" || r.VMess.Host != "") {
			p.WSOpts = &wsOpts{Path: r.VMess.Path}
			if r.VMess.Host != "" {
				p.WSOpts.Headers = map[string]string{"Host": r.VMess.Host}
			}
		}
	case model.ProtoTrojan:
		if r.Trojan == nil {
			return clashProxy{}, missingCredential(r)
		}
		p.Type = "trojan"
		p.Password = r.Trojan.Password
		p.SNI = param(r.Trojan.Params, "sni", "peer")
		p.SkipCertVerify = param(r.Trojan.Params, "allowInsecure") == "1"
		p.UDP = true
	case model.ProtoVLESS:
		if r.VLESS == nil {
			return clashProxy{}, missingCredential(r)
		}
		p.Type = "vless"
		p.UUID = r.VLESS.UUID
		p.Flow = r.VLESS.Flow
		sec := param(r.VLESS.Params, "security")
		p.TLS = sec == "tls" || sec == "reality"
		p.ServerName = param(r.VLESS.Params, "sni")
		p.Network = param(r.VLESS.Params, "type")
		p.UDP = true
	case model.ProtoSOCKS5, model.ProtoSOCKS4, model.ProtoHTTP:
		p.Type = string(r.Protocol)
	default:
		return clashProxy{}, &RenderError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: fmt.Sprintf("不支持的协议：%s", r.Protocol),
				Stage:   "render",
				Snippet: r.DisplayName(),
			},
		}
	}
	return p, nil
}

func missingCredential(r model.NodeRecord) error {
	return &RenderError{
		AppError: model.AppError{
			Code:    "INVALID_ARGUMENT",
			Message: "节点缺少凭据",
			Stage:   "render",
			Snippet: r.DisplayName(),
		},
	}
}

func param(kvs []model.KV, keys ...string) string {
	for _, k := range keys {
		for _, kv := range kvs {
			if kv.Key == k {
				return kv.Value
			}
		}
	}
	return ""
}
