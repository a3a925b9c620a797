package security

import "testing"

// TestSanitizeValue_StripsHTML はHTMLタグがすべて除去されることを検証する。
func TestSanitizeValue_StripsHTML(t *testing.T) {
	s := NewAnswerSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキスト", "dig +short example.com", "dig +short example.com"},
		{"scriptタグ", `<script>alert("xss")</script>原因はDNS`, "原因はDNS"},
		{"装飾タグも除去", "<strong>MTU</strong>の不一致", "MTUの不一致"},
		{"imgのonerror", `<img src=x onerror=alert(1)>フラグメント`, "フラグメント"},
		{"前後の空白", "  tcpdump -i eth0  ", "tcpdump -i eth0"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeValue(tt.input); got != tt.want {
				t.Errorf("SanitizeValue(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeValue_Idempotent はサニタイズ済みの値を再度通しても
// 変化しないことを検証する。
func TestSanitizeValue_Idempotent(t *testing.T) {
	s := NewAnswerSanitizer()

	inputs := []string{
		"ip route show table main",
		`<a href="https://example.com">リンク</a>付きの回答`,
		"<p>段落</p>",
	}
	for _, input := range inputs {
		once := s.SanitizeValue(input)
		twice := s.SanitizeValue(once)
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", input, once, twice)
		}
	}
}
