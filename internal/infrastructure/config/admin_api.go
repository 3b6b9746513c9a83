package config

import (
	"crypto/subtle"
	"net"
	"strings"
)

// ValidKey APIキーを定数時間で比較する（キー未設定なら常に false）
func (c *AdminAPIConfig) ValidKey(given string) bool {
	if c.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(c.APIKey)) == 1
}

// AllowsIP IPアドレスが許可リスト（単一IPまたはCIDR）に含まれているか
func (c *AdminAPIConfig) AllowsIP(ip string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, allowed := range c.AllowedIPs {
		if strings.Contains(allowed, "/") {
			_, network, err := net.ParseCIDR(allowed)
			if err == nil && network.Contains(parsed) {
				return true
			}
			continue
		}
		if other := net.ParseIP(allowed); other != nil && other.Equal(parsed) {
			return true
		}
	}
	return false
}
