package ip

import "testing"

type ipTests struct {
	ip           string
	expectedErr  bool
	expectedPriv bool
}

var tblIP = []ipTests{
	{"10.0.0.1", false, true},
	{"192.168.1.1", false, true},
	{"172.16.0.1", false, true},
	{"127.0.0.1", false, true},
	{"fe80::1", false, true},
	{"8.8.8.8", false, false},
	{"2606:4700::1111", false, false},
	{"not-an-ip", true, false},
	{"", true, false},
}

func TestIsPrivateIP(t *testing.T) {
	for _, tt := range tblIP {
		priv, err := IsPrivateIP(tt.ip)
		if (err != nil) != tt.expectedErr {
			t.Errorf("IP %s: expected err %v, actual %v", tt.ip, tt.expectedErr, err)
		}
		if priv != tt.expectedPriv {
			t.Errorf("IP %s: expected private %v, actual %v", tt.ip, tt.expectedPriv, priv)
		}
	}
}
