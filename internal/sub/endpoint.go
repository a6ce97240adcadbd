package sub

import (
	"strings"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

// endpointParser handles socks5://, socks4:// and http:// links, which carry
// nothing but an address. Userinfo, if present, is dropped.
func endpointParser(proto model.Protocol) ParserFunc {
	return func(body string) (model.NodeRecord, error) {
		hostPort, _, name := splitAuthority(body)
		if at := strings.LastIndex(hostPort, "@"); at >= 0 {
			hostPort = hostPort[at+1:]
		}
		host, port, err := parseHostPort(hostPort)
		if err != nil {
			return model.NodeRecord{}, addressError(err)
		}
		return model.NodeRecord{Protocol: proto, Host: host, Port: port, Name: name}, nil
	}
}
