package sub

import (
	"strings"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

func parseSS(body string) (model.NodeRecord, error) {
	return parseShadowsocks(model.ProtoSS, body)
}

// parseSIP002 handles the sip002:// alias some aggregators publish; the payload
// is identical to ss://.
func parseSIP002(body string) (model.NodeRecord, error) {
	return parseShadowsocks(model.ProtoSIP002, body)
}

func parseShadowsocks(proto model.Protocol, body string) (model.NodeRecord, error) {
	withoutFrag, frag, _ := strings.Cut(body, "#")
	name := decodeName(frag)

	withoutQuery, query, _ := strings.Cut(withoutFrag, "?")
	rest := strings.TrimSpace(strings.TrimSuffix(withoutQuery, "/"))
	if rest == "" {
		return model.NodeRecord{}, newParseError("", CodeMissingField, "ss:// 后缺少内容", nil)
	}

	var cred, hostPort string
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		// SIP002: <b64(method:password)>@<host>:<port>
		userInfo := rest[:at]
		hostPort = rest[at+1:]
		decoded, err := decodeB64ToString(userInfo)
		if err != nil {
			// Plain (percent-encoded) userinfo is also seen in the wild.
			plain := decodeName(userInfo)
			if !strings.Contains(plain, ":") {
				return model.NodeRecord{}, newParseError("", CodeDecode, "ss userinfo base64 解码失败", err)
			}
			decoded = plain
		}
		cred = decoded
	} else {
		// Legacy: <b64(method:password@host:port)>
		decoded, err := decodeB64ToString(rest)
		if err != nil {
			return model.NodeRecord{}, newParseError("", CodeDecode, "ss base64 解码失败", err)
		}
		at := strings.LastIndex(decoded, "@")
		if at < 0 {
			return model.NodeRecord{}, newParseError("", CodeMissingField, "ss base64 解码结果缺少 @ 分隔符", nil)
		}
		cred = decoded[:at]
		hostPort = decoded[at+1:]
	}

	method, password, ok := strings.Cut(cred, ":")
	method = strings.TrimSpace(method)
	password = strings.TrimSpace(password)
	if !ok || method == "" || password == "" {
		return model.NodeRecord{}, newParseError("", CodeMissingField, "缺少 cipher:password", nil)
	}
	if strings.ContainsAny(method, "\r\n\x00") || strings.ContainsAny(password, "\r\n\x00") {
		return model.NodeRecord{}, newParseError("", CodeDecode, "cipher 或 password 包含非法控制字符", nil)
	}

	host, port, err := parseHostPort(hostPort)
	if err != nil {
		return model.NodeRecord{}, addressError(err)
	}

	plugin, opts := parsePlugin(query)
	return model.NodeRecord{
		Protocol: proto,
		Host:     host,
		Port:     port,
		Name:     name,
		SS: &model.SSCredential{
			Cipher:     strings.ToLower(method),
			Password:   password,
			Plugin:     plugin,
			PluginOpts: opts,
		},
	}, nil
}

// parsePlugin extracts "plugin=name;k=v;..." from a SIP002 query. Unknown
// parameters are ignored.
func parsePlugin(query string) (string, []model.KV) {
	var value string
	for _, kv := range parseQueryKV(query) {
		if kv.Key == "plugin" {
			value = kv.Value
			break
		}
	}
	segs := strings.Split(value, ";")
	name := strings.TrimSpace(segs[0])
	if name == "" {
		return "", nil
	}
	var opts []model.KV
	for _, seg := range segs[1:] {
		k, v, ok := strings.Cut(seg, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		opts = append(opts, model.KV{Key: k, Value: strings.TrimSpace(v)})
	}
	return name, opts
}
