package sub

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

type clashDoc struct {
	Proxies []map[string]any `yaml:"proxies"`
}

type clashResult struct {
	Records    []model.NodeRecord
	Candidates int
	Errors     []error
}

// parseClashProxies reads the "proxies" list of a Clash config. Documents that
// are not valid YAML contribute nothing.
func parseClashProxies(text string) clashResult {
	var res clashResult
	var doc clashDoc
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return res
	}
	for _, m := range doc.Proxies {
		res.Candidates++
		rec, err := clashToRecord(m)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Records = append(res.Records, canonicalize(rec))
	}
	return res
}

func clashToRecord(m map[string]any) (model.NodeRecord, error) {
	typ := strings.ToLower(str(m["type"]))
	server := str(m["server"])
	portStr := str(m["port"])
	snippet := fmt.Sprintf("%s %s:%s", typ, server, portStr)
	if typ == "" || server == "" || portStr == "" {
		return model.NodeRecord{}, newParseError(snippet, CodeMissingField, "Clash 节点缺少 type/server/port", nil)
	}
	host, port, err := parseHostPort(joinHostPort(strings.Trim(server, "[]"), portStr))
	if err != nil {
		pe := newParseError(snippet, CodeBadAddress, "服务器地址或端口不合法", err)
		return model.NodeRecord{}, pe
	}

	rec := model.NodeRecord{Host: host, Port: port, Name: sanitizeName(str(m["name"]))}
	switch typ {
	case "ss":
		rec.Protocol = model.ProtoSS
		rec.SS = &model.SSCredential{
			Cipher:   strings.ToLower(str(m["cipher"])),
			Password: str(m["password"]),
		}
		if rec.SS.Cipher == "" || rec.SS.Password == "" {
			return model.NodeRecord{}, newParseError(snippet, CodeMissingField, "缺少 cipher:password", nil)
		}
	case "ssr":
		rec.Protocol = model.ProtoSSR
		rec.SSR = &model.SSRCredential{
			Cipher:     strings.ToLower(str(m["cipher"])),
			Password:   str(m["password"]),
			Protocol:   str(m["protocol"]),
			Obfs:       str(m["obfs"]),
			ObfsParam:  str(m["obfs-param"]),
			ProtoParam: str(m["protocol-param"]),
		}
		if rec.SSR.Cipher == "" || rec.SSR.Password == "" || rec.SSR.Protocol == "" || rec.SSR.Obfs == "" {
			return model.NodeRecord{}, newParseError(snippet, CodeMissingField, "ssr 字段为空", nil)
		}
	case "vmess":
		rec.Protocol = model.ProtoVMess
		aid, _ := strconv.Atoi(str(m["alterId"]))
		network := strings.ToLower(str(m["network"]))
		if network == "" {
			network = "tcp"
		}
		wsPath, wsHost := clashWSOpts(m["ws-opts"])
		rec.VMess = &model.VMessCredential{
			UUID:    canonicalUUID(str(m["uuid"])),
			AlterID: aid,
			Network: network,
			TLS:     tlsEnabled(str(m["tls"])),
			Path:    wsPath,
			Host:    wsHost,
		}
		if rec.VMess.UUID == "" {
			return model.NodeRecord{}, newParseError(snippet, CodeMissingField, "vmess 缺少 uuid", nil)
		}
	case "trojan":
		rec.Protocol = model.ProtoTrojan
		rec.Trojan = &model.TrojanCredential{Password: str(m["password"])}
		if rec.Trojan.Password == "" {
			return model.NodeRecord{}, newParseError(snippet, CodeMissingField, "trojan 缺少 password", nil)
		}
		if sni := str(m["sni"]); sni != "" {
			rec.Trojan.Params = []model.KV{{Key: "sni", Value: sni}}
		}
	case "vless":
		rec.Protocol = model.ProtoVLESS
		rec.VLESS = &model.VLESSCredential{UUID: canonicalUUID(str(m["uuid"])), Flow: str(m["flow"])}
		if rec.VLESS.UUID == "" {
			return model.NodeRecord{}, newParseError(snippet, CodeMissingField, "vless 缺少 uuid", nil)
		}
	case "socks5", "socks4", "http":
		rec.Protocol = model.Protocol(typ)
	default:
		return model.NodeRecord{}, newParseError(snippet, CodeUnsupportedScheme, fmt.Sprintf("不支持的协议：%s", typ), nil)
	}
	return rec, nil
}

func clashWSOpts(v any) (path, host string) {
	opts, ok := v.(map[string]any)
	if !ok {
		return "", ""
	}
	path = str(opts["path"])
	if headers, ok := opts["headers"].(map[string]any); ok {
		host = str(headers["Host"])
	}
	return path, host
}

// str renders YAML scalars as trimmed strings; other values become "".
func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}
