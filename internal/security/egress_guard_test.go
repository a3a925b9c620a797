package security

import (
	"testing"
	"time"
)

// TestValidateEndpoint_AllowedURLs は正当な外部URLの通過を検証する。
func TestValidateEndpoint_AllowedURLs(t *testing.T) {
	guard := NewEgressGuard()

	urls := []string{
		"https://scoring.example.com/rpc",
		"http://scoring.example.com/rpc",
		"https://api.example.co.jp/v1/recalculate",
		"https://93.184.216.34/rpc",
	}
	for _, u := range urls {
		if err := guard.ValidateEndpoint(u); err != nil {
			t.Errorf("ValidateEndpoint(%q) = %v, want nil", u, err)
		}
	}
}

// TestValidateEndpoint_BlockedURLs は内部ネットワーク・危険スキームの拒否を検証する。
func TestValidateEndpoint_BlockedURLs(t *testing.T) {
	guard := NewEgressGuard()

	urls := []string{
		"",
		"ftp://scoring.example.com/rpc",
		"file:///etc/passwd",
		"javascript:alert(1)",
		"https://localhost/rpc",
		"https://127.0.0.1/rpc",
		"https://10.0.0.5/rpc",
		"https://172.16.0.1/rpc",
		"https://192.168.1.1/rpc",
		"https://169.254.169.254/latest/meta-data/",
		"https://0.0.0.0/rpc",
		"https://[::1]/rpc",
		"https://[fe80::1]/rpc",
		"https://",
	}
	for _, u := range urls {
		if err := guard.ValidateEndpoint(u); err == nil {
			t.Errorf("ValidateEndpoint(%q) = nil, want error", u)
		}
	}
}

// TestNewSafeClient_ReturnsClient はクライアント生成を検証する。
// 実際のブロック動作はsafeurlのDialer検証に委ねる。
func TestNewSafeClient_ReturnsClient(t *testing.T) {
	guard := NewEgressGuard()

	client := guard.NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("expected non-nil client")
	}
}
