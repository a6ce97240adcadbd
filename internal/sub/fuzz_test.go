package sub

import "testing"

func FuzzNormalize(f *testing.F) {
	seed := []string{
		"",
		"not-a-valid-uri",
		"1.2.3.4:1080",
		"ss://YWVzLTI1Ni1nY206cGFzc3dvcmRAMS4yLjMuNDo4MDg4",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388/?plugin=simple-obfs%3Bobfs%3Dtls#obfs",
		"ssr://NS42LjcuODo5MDAwOm9yaWdpbjphZXMtMTI4LWNmYg==",
		"vmess://eyJhZGQiOiAiIiwgImhvc3QiOiAiaC5leGFtcGxlLmNvbSIsICJwb3J0IjogIjgwODAifQ==",
		"trojan://pw@[::1]:443#x",
		"vless://id@host:1?flow=a#b",
	}
	for _, s := range seed {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		recs, err := Normalize(raw)
		if err != nil {
			if recs != nil {
				t.Fatalf("records returned alongside error")
			}
			return
		}
		if len(recs) == 0 {
			t.Fatalf("no records on nil error")
		}
		for _, r := range recs {
			if !r.Protocol.Valid() {
				t.Fatalf("unknown protocol %q", r.Protocol)
			}
			if r.Host == "" {
				t.Fatalf("empty host")
			}
			if r.Port < 1 || r.Port > 65535 {
				t.Fatalf("port out of range: %d", r.Port)
			}
		}
	})
}

func FuzzHarvest(f *testing.F) {
	f.Add("ss://YWVzLTI1Ni1nY206cGFzc3dvcmRAMS4yLjMuNDo4MDg4 1.2.3.4:80")
	f.Add("proxies:\n  - {type: ss, server: a, port: 1, cipher: x, password: y}\n")
	f.Fuzz(func(t *testing.T, text string) {
		res := Harvest(text)
		for _, r := range res.Records {
			if r.Port < 1 || r.Port > 65535 {
				t.Fatalf("port out of range: %d", r.Port)
			}
		}
	})
}
