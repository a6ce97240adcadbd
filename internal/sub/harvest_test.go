package sub

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

func TestHarvest_MixedHTML(t *testing.T) {
	text := strings.Join([]string{
		"<html><body>",
		"<p>ss://YWVzLTI1Ni1nY206cGFzc3dvcmRAMS4yLjMuNDo4MDg4#A</p>",
		"<p>trojan://pw@5.5.5.5:443</p>",
		"free socks: 8.8.4.4:1080 and 300.1.1.1:80",
		"broken: vmess://bm90IGpzb24=",
		"</body></html>",
	}, "\n")

	res := Harvest(text)
	require.Len(t, res.Records, 1+1+3)

	assert.Equal(t, model.ProtoSS, res.Records[0].Protocol)
	assert.Equal(t, model.ProtoTrojan, res.Records[1].Protocol)
	// 5.5.5.5:443 lives inside the trojan link and must not become a socks candidate.
	for _, r := range res.Records[2:] {
		assert.Equal(t, "8.8.4.4", r.Host)
		assert.True(t, r.Protocol.IsProxyFamily())
	}
	assert.Equal(t, 1, res.Rejected[CodeDecode])
	assert.Len(t, res.Errors, 1)
}

func TestHarvest_Base64Body(t *testing.T) {
	raw := "ss://YWVzLTI1Ni1nY206cGFzc3dvcmRAMS4yLjMuNDo4MDg4#A\ntrojan://pw@5.5.5.5:443#B\n"
	body := base64.StdEncoding.EncodeToString([]byte(raw))

	res := Harvest(body)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "A", res.Records[0].Name)
	assert.Equal(t, "B", res.Records[1].Name)
}

func TestHarvest_ClashYAML(t *testing.T) {
	text := `
proxies:
  - name: hk
    type: ss
    server: 1.2.3.4
    port: 8388
    cipher: AES-128-GCM
    password: "123"
  - name: us
    type: vmess
    server: us.example
    port: "443"
    uuid: b831381d-6324-4d53-ad4f-8cda48b30811
    alterId: 0
    network: ws
    tls: true
    ws-opts:
      path: /ray
      headers:
        Host: cdn.example
  - name: wg
    type: wireguard
    server: 9.9.9.9
    port: 51820
  - name: noport
    type: trojan
    server: 9.9.9.9
`
	res := Harvest(text)
	require.Len(t, res.Records, 2)

	ss := res.Records[0]
	assert.Equal(t, model.ProtoSS, ss.Protocol)
	assert.Equal(t, "aes-128-gcm", ss.SS.Cipher)
	assert.Equal(t, "123", ss.SS.Password)
	assert.Equal(t, "hk", ss.Name)

	vm := res.Records[1]
	assert.Equal(t, model.ProtoVMess, vm.Protocol)
	assert.Equal(t, 443, vm.Port)
	assert.True(t, vm.VMess.TLS)
	assert.Equal(t, "/ray", vm.VMess.Path)
	assert.Equal(t, "cdn.example", vm.VMess.Host)

	assert.Equal(t, 1, res.Rejected[CodeUnsupportedScheme])
	assert.Equal(t, 1, res.Rejected[CodeMissingField])
	assert.Equal(t, 4, res.Candidates)
}

func TestHarvest_DuplicateLinksCollapsed(t *testing.T) {
	text := "ss://YWVzLTI1Ni1nY206cGFzc3dvcmRAMS4yLjMuNDo4MDg4\nss://YWVzLTI1Ni1nY206cGFzc3dvcmRAMS4yLjMuNDo4MDg4\n"
	res := Harvest(text)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Candidates)
}

func TestHarvest_Empty(t *testing.T) {
	res := Harvest("   \n")
	assert.Empty(t, res.Records)
	assert.Zero(t, res.Candidates)
}

func TestHarvest_TrojanQueryAndFragment(t *testing.T) {
	text := "<p>trojan://pw@h.example:443?sni=cdn.example&allowInsecure=1#Tokyo</p>"

	res := Harvest(text)
	require.Len(t, res.Records, 1)
	tr := res.Records[0]
	assert.Equal(t, "Tokyo", tr.Name)
	assert.Equal(t, []model.KV{{Key: "sni", Value: "cdn.example"}, {Key: "allowInsecure", Value: "1"}}, tr.Trojan.Params)

	direct, err := NormalizeURI("trojan://pw@h.example:443?sni=cdn.example&allowInsecure=1#Tokyo")
	require.NoError(t, err)
	assert.Equal(t, direct, tr)
}

func TestHarvest_SIP002Plugin(t *testing.T) {
	link := "ss://YWVzLTEyOC1nY206cHc=@1.2.3.4:8388/?plugin=obfs-local;obfs=http;obfs-host=x.com#Obfs"
	res := Harvest("nodes:\n" + link + "\n" + strings.Replace(link, "ss://", "sip002://", 1) + "\n")

	require.Len(t, res.Records, 2)
	for _, r := range res.Records {
		assert.Equal(t, "Obfs", r.Name)
		assert.Equal(t, "obfs-local", r.SS.Plugin)
		assert.Equal(t, []model.KV{{Key: "obfs", Value: "http"}, {Key: "obfs-host", Value: "x.com"}}, r.SS.PluginOpts)
	}
	assert.Equal(t, model.ProtoSS, res.Records[0].Protocol)
	assert.Equal(t, model.ProtoSIP002, res.Records[1].Protocol)
	// The address inside the links is not picked up as a bare endpoint.
	assert.Empty(t, res.Rejected)
}

func TestHarvest_ClashVMessWithoutUUID(t *testing.T) {
	text := `
proxies:
  - name: nouuid
    type: vmess
    server: us.example
    port: 443
`
	res := Harvest(text)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Rejected[CodeMissingField])
}
