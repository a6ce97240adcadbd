package sub

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

// flexString accepts JSON strings, numbers and booleans. vmess share links
// are produced by many tools and disagree on whether port/aid/tls are quoted.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type vmessJSON struct {
	V    flexString `json:"v"`
	PS   flexString `json:"ps"`
	Add  flexString `json:"add"`
	Port flexString `json:"port"`
	ID   flexString `json:"id"`
	Aid  flexString `json:"aid"`
	Net  flexString `json:"net"`
	Type flexString `json:"type"`
	Host flexString `json:"host"`
	Path flexString `json:"path"`
	TLS  flexString `json:"tls"`
}

func parseVMess(body string) (model.NodeRecord, error) {
	body, _, _ = strings.Cut(body, "#")
	decoded, err := decodeB64ToString(body)
	if err != nil {
		return model.NodeRecord{}, newParseError("", CodeDecode, "vmess base64 解码失败", err)
	}

	var js vmessJSON
	if err := json.Unmarshal([]byte(decoded), &js); err != nil {
		return model.NodeRecord{}, newParseError("", CodeDecode, "vmess JSON 解析失败", err)
	}

	addr := strings.TrimSpace(string(js.Add))
	if addr == "" {
		addr = strings.TrimSpace(string(js.Host))
	}
	portStr := strings.TrimSpace(string(js.Port))
	if addr == "" || portStr == "" {
		return model.NodeRecord{}, newParseError("", CodeMissingField, "vmess 缺少 add 或 port", nil)
	}
	host, port, err := parseHostPort(joinHostPort(strings.Trim(addr, "[]"), portStr))
	if err != nil {
		return model.NodeRecord{}, addressError(err)
	}

	aid, err := strconv.Atoi(strings.TrimSpace(string(js.Aid)))
	if err != nil {
		aid = 0
	}
	network := strings.ToLower(strings.TrimSpace(string(js.Net)))
	if network == "" {
		network = "tcp"
	}

	return model.NodeRecord{
		Protocol: model.ProtoVMess,
		Host:     host,
		Port:     port,
		Name:     sanitizeName(string(js.PS)),
		VMess: &model.VMessCredential{
			UUID:    canonicalUUID(string(js.ID)),
			AlterID: aid,
			Network: network,
			TLS:     tlsEnabled(string(js.TLS)),
			Path:    string(js.Path),
			Host:    strings.TrimSpace(string(js.Host)),
		},
	}, nil
}

func tlsEnabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none", "false", "0":
		return false
	default:
		return true
	}
}

// canonicalUUID lower-cases and re-formats well-formed UUIDs; anything else is
// kept verbatim because some servers accept arbitrary ids.
func canonicalUUID(s string) string {
	s = strings.TrimSpace(s)
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return s
}
