package model

import (
	"fmt"
	"strings"
)

type Protocol string

const (
	ProtoSS     Protocol = "ss"
	ProtoSSR    Protocol = "ssr"
	ProtoSIP002 Protocol = "sip002"
	ProtoVMess  Protocol = "vmess"
	ProtoTrojan Protocol = "trojan"
	ProtoVLESS  Protocol = "vless"
	ProtoSOCKS4 Protocol = "socks4"
	ProtoSOCKS5 Protocol = "socks5"
	ProtoHTTP   Protocol = "http"
)

var protocols = []Protocol{
	ProtoSS, ProtoSSR, ProtoSIP002, ProtoVMess, ProtoTrojan, ProtoVLESS,
	ProtoSOCKS4, ProtoSOCKS5, ProtoHTTP,
}

// Protocols returns every known protocol in canonical output order.
func Protocols() []Protocol {
	out := make([]Protocol, len(protocols))
	copy(out, protocols)
	return out
}

func (p Protocol) Valid() bool {
	for _, q := range protocols {
		if p == q {
			return true
		}
	}
	return false
}

// IsProxyFamily reports whether p is a plain forward proxy (socks4/socks5/http).
func (p Protocol) IsProxyFamily() bool {
	return p == ProtoSOCKS4 || p == ProtoSOCKS5 || p == ProtoHTTP
}

type KV struct {
	Key   string
	Value string
}

// Key is the identity of a node for deduplication purposes. Two records with
// the same Key but different credentials are treated as the same node.
type Key struct {
	Protocol Protocol
	Host     string
	Port     int
}

type SSCredential struct {
	Cipher   string
	Password string

	// Plugin/PluginOpts come from the SIP002 "plugin" query parameter.
	// PluginOpts keeps source order (no map) so output stays deterministic.
	Plugin     string
	PluginOpts []KV
}

type SSRCredential struct {
	Cipher     string
	Password   string
	Protocol   string
	Obfs       string
	ObfsParam  string
	ProtoParam string
}

type VMessCredential struct {
	UUID    string
	AlterID int
	Network string
	TLS     bool
	Path    string
	Host    string // ws Host header
}

type TrojanCredential struct {
	Password string
	// Params keeps the query string in its original order so the node can be
	// serialized back without loss.
	Params []KV
}

type VLESSCredential struct {
	UUID   string
	Flow   string
	Params []KV // query parameters other than flow
}

// NodeRecord is the canonical node representation shared by every pipeline
// stage. Exactly one credential pointer matching Protocol is set; socks and
// http records carry none.
type NodeRecord struct {
	Protocol Protocol
	Host     string
	Port     int

	// Name is the optional human label taken from the source (fragment, ps,
	// remarks). Use DisplayName for output.
	Name string

	SS     *SSCredential // ss and sip002
	SSR    *SSRCredential
	VMess  *VMessCredential
	Trojan *TrojanCredential
	VLESS  *VLESSCredential
}

func (r NodeRecord) Key() Key {
	return Key{Protocol: r.Protocol, Host: r.Host, Port: r.Port}
}

func (r NodeRecord) DefaultName() string {
	return fmt.Sprintf("%s_%s_%d", strings.ToUpper(string(r.Protocol)), r.Host, r.Port)
}

func (r NodeRecord) DisplayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return r.DefaultName()
}

// Address returns host:port suitable for net.Dial.
func (r NodeRecord) Address() string {
	host := r.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, r.Port)
}
