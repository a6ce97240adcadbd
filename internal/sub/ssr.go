package sub

import (
	"net/url"
	"strings"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

// parseSSR decodes ssr://base64(host:port:protocol:method:obfs:b64(password)/?params).
// Hosts may be IPv6 literals, so the five trailing fields are taken from the
// right and whatever precedes them is the host.
func parseSSR(body string) (model.NodeRecord, error) {
	body, _, _ = strings.Cut(body, "#")
	decoded, err := decodeB64ToString(body)
	if err != nil {
		return model.NodeRecord{}, newParseError("", CodeDecode, "ssr base64 解码失败", err)
	}

	head, rawParams, _ := strings.Cut(decoded, "/?")
	head = strings.TrimSuffix(head, "/")
	parts := strings.Split(head, ":")
	if len(parts) < 6 {
		return model.NodeRecord{}, newParseError("", CodeMissingField, "ssr 字段不足 6 个", nil)
	}
	n := len(parts)
	host := strings.Trim(strings.Join(parts[:n-5], ":"), "[]")
	portStr, proto, method, obfs, pwdB64 := parts[n-5], parts[n-4], parts[n-3], parts[n-2], parts[n-1]
	for _, f := range []string{host, portStr, proto, method, obfs, pwdB64} {
		if strings.TrimSpace(f) == "" {
			return model.NodeRecord{}, newParseError("", CodeMissingField, "ssr 字段为空", nil)
		}
	}

	h, port, err := parseHostPort(joinHostPort(host, portStr))
	if err != nil {
		return model.NodeRecord{}, addressError(err)
	}
	password, err := decodeB64ToString(pwdB64)
	if err != nil {
		return model.NodeRecord{}, newParseError("", CodeDecode, "ssr password base64 解码失败", err)
	}

	params, _ := url.ParseQuery(rawParams)
	return model.NodeRecord{
		Protocol: model.ProtoSSR,
		Host:     h,
		Port:     port,
		Name:     decodeB64Param(params.Get("remarks")),
		SSR: &model.SSRCredential{
			Cipher:     strings.ToLower(strings.TrimSpace(method)),
			Password:   password,
			Protocol:   strings.TrimSpace(proto),
			Obfs:       strings.TrimSpace(obfs),
			ObfsParam:  decodeB64Param(params.Get("obfsparam")),
			ProtoParam: decodeB64Param(params.Get("protoparam")),
		},
	}, nil
}

func decodeB64Param(s string) string {
	if s == "" {
		return ""
	}
	d, err := decodeB64ToString(s)
	if err != nil {
		return ""
	}
	return sanitizeName(d)
}

func joinHostPort(host, port string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]:" + port
	}
	return host + ":" + port
}
