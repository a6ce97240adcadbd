package sub

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

// Serialize renders a record back into the share-link form Normalize accepts,
// such that Normalize(Serialize(r)) yields r again for canonical records.
func Serialize(r model.NodeRecord) (string, error) {
	if r.Host == "" || r.Port < 1 || r.Port > 65535 {
		return "", fmt.Errorf("invalid address %q:%d", r.Host, r.Port)
	}
	switch r.Protocol {
	case model.ProtoSS, model.ProtoSIP002:
		return serializeSS(r)
	case model.ProtoSSR:
		return serializeSSR(r)
	case model.ProtoVMess:
		return serializeVMess(r)
	case model.ProtoTrojan:
		return serializeTrojan(r)
	case model.ProtoVLESS:
		return serializeVLESS(r)
	case model.ProtoSOCKS4, model.ProtoSOCKS5, model.ProtoHTTP:
		return string(r.Protocol) + "://" + r.Address() + fragment(r), nil
	default:
		return "", fmt.Errorf("unsupported protocol: %s", r.Protocol)
	}
}

// SerializeAll renders every record, skipping ones that cannot be rendered and
// links already emitted.
func SerializeAll(recs []model.NodeRecord) []string {
	seen := make(map[string]struct{}, len(recs))
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		link, err := Serialize(r)
		if err != nil {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

func serializeSS(r model.NodeRecord) (string, error) {
	c := r.SS
	if c == nil || c.Cipher == "" || c.Password == "" {
		return "", fmt.Errorf("%s record without cipher/password", r.Protocol)
	}
	var b strings.Builder
	b.WriteString(string(r.Protocol))
	b.WriteString("://")
	if c.Plugin == "" {
		raw := c.Cipher + ":" + c.Password + "@" + r.Address()
		b.WriteString(base64.RawURLEncoding.EncodeToString([]byte(raw)))
	} else {
		b.WriteString(base64.RawURLEncoding.EncodeToString([]byte(c.Cipher + ":" + c.Password)))
		b.WriteByte('@')
		b.WriteString(r.Address())

		var pb strings.Builder
		pb.WriteString(c.Plugin)
		for _, kv := range c.PluginOpts {
			pb.WriteByte(';')
			pb.WriteString(kv.Key)
			pb.WriteByte('=')
			pb.WriteString(kv.Value)
		}
		b.WriteString("/?plugin=")
		b.WriteString(pctEncode(pb.String()))
	}
	b.WriteString(fragment(r))
	return b.String(), nil
}

func serializeSSR(r model.NodeRecord) (string, error) {
	c := r.SSR
	if c == nil || c.Cipher == "" || c.Password == "" || c.Protocol == "" || c.Obfs == "" {
		return "", fmt.Errorf("ssr record with incomplete credential")
	}
	enc := base64.RawURLEncoding
	head := strings.Join([]string{
		r.Host,
		strconv.Itoa(r.Port),
		c.Protocol,
		c.Cipher,
		c.Obfs,
		enc.EncodeToString([]byte(c.Password)),
	}, ":")

	params := make([]string, 0, 3)
	if c.ObfsParam != "" {
		params = append(params, "obfsparam="+enc.EncodeToString([]byte(c.ObfsParam)))
	}
	if c.ProtoParam != "" {
		params = append(params, "protoparam="+enc.EncodeToString([]byte(c.ProtoParam)))
	}
	if r.Name != "" && r.Name != r.DefaultName() {
		params = append(params, "remarks="+enc.EncodeToString([]byte(r.Name)))
	}
	if len(params) > 0 {
		head += "/?" + strings.Join(params, "&")
	}
	return "ssr://" + enc.EncodeToString([]byte(head)), nil
}

type vmessOut struct {
	V    string `json:"v"`
	PS   string `json:"ps"`
	Add  string `json:"add"`
	Port string `json:"port"`
	ID   string `json:"id"`
	Aid  string `json:"aid"`
	Net  string `json:"net"`
	Type string `json:"type"`
	Host string `json:"host"`
	Path string `json:"path"`
	TLS  string `json:"tls"`
}

func serializeVMess(r model.NodeRecord) (string, error) {
	c := r.VMess
	if c == nil {
		return "", fmt.Errorf("vmess record without credential")
	}
	tls := ""
	if c.TLS {
		tls = "tls"
	}
	network := c.Network
	if network == "" {
		network = "tcp"
	}
	data, err := json.Marshal(vmessOut{
		V:    "2",
		PS:   r.DisplayName(),
		Add:  r.Host,
		Port: strconv.Itoa(r.Port),
		ID:   c.UUID,
		Aid:  strconv.Itoa(c.AlterID),
		Net:  network,
		Type: "none",
		Host: c.Host,
		Path: c.Path,
		TLS:  tls,
	})
	if err != nil {
		return "", err
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(data), nil
}

func serializeTrojan(r model.NodeRecord) (string, error) {
	c := r.Trojan
	if c == nil || c.Password == "" {
		return "", fmt.Errorf("trojan record without password")
	}
	return "trojan://" + pctEncode(c.Password) + "@" + r.Address() + query(c.Params) + fragment(r), nil
}

func serializeVLESS(r model.NodeRecord) (string, error) {
	c := r.VLESS
	if c == nil || c.UUID == "" {
		return "", fmt.Errorf("vless record without uuid")
	}
	params := make([]model.KV, 0, len(c.Params)+1)
	if c.Flow != "" {
		params = append(params, model.KV{Key: "flow", Value: c.Flow})
	}
	params = append(params, c.Params...)
	return "vless://" + c.UUID + "@" + r.Address() + query(params) + fragment(r), nil
}

func query(params []model.KV) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, 0, len(params))
	for _, kv := range params {
		parts = append(parts, pctEncode(kv.Key)+"="+pctEncode(kv.Value))
	}
	return "?" + strings.Join(parts, "&")
}

func fragment(r model.NodeRecord) string {
	if r.Name == "" || r.Name == r.DefaultName() {
		return ""
	}
	return "#" + pctEncode(r.Name)
}

func pctEncode(s string) string {
	// RFC 3986 percent-encoding. QueryEscape uses '+' for spaces, which is
	// rewritten to %20 so path-style decoders agree.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
