package sub

import (
	"net/url"
	"strings"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

func parseTrojan(body string) (model.NodeRecord, error) {
	password, rest, ok := strings.Cut(body, "@")
	if !ok || password == "" {
		return model.NodeRecord{}, newParseError("", CodeMissingField, "trojan 缺少 password@", nil)
	}
	if p, err := url.PathUnescape(password); err == nil {
		password = p
	}

	hostPort, query, name := splitAuthority(rest)
	host, port, err := parseHostPort(hostPort)
	if err != nil {
		return model.NodeRecord{}, addressError(err)
	}
	return model.NodeRecord{
		Protocol: model.ProtoTrojan,
		Host:     host,
		Port:     port,
		Name:     name,
		Trojan: &model.TrojanCredential{
			Password: password,
			Params:   parseQueryKV(query),
		},
	}, nil
}

func parseVLESS(body string) (model.NodeRecord, error) {
	id, rest, ok := strings.Cut(body, "@")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return model.NodeRecord{}, newParseError("", CodeMissingField, "vless 缺少 uuid@", nil)
	}

	hostPort, query, name := splitAuthority(rest)
	host, port, err := parseHostPort(hostPort)
	if err != nil {
		return model.NodeRecord{}, addressError(err)
	}

	var flow string
	var params []model.KV
	for _, kv := range parseQueryKV(query) {
		if kv.Key == "flow" {
			flow = kv.Value
			continue
		}
		params = append(params, kv)
	}
	return model.NodeRecord{
		Protocol: model.ProtoVLESS,
		Host:     host,
		Port:     port,
		Name:     name,
		VLESS: &model.VLESSCredential{
			UUID:   canonicalUUID(id),
			Flow:   flow,
			Params: params,
		},
	}, nil
}

// splitAuthority splits "host:port[/][?query][#fragment]".
func splitAuthority(s string) (hostPort, query, name string) {
	s, frag, _ := strings.Cut(s, "#")
	s, query, _ = strings.Cut(s, "?")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s, query, decodeName(frag)
}
