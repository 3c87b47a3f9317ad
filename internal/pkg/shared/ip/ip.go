package ip

import (
	"errors"
	"net"

	"github.com/yl2chen/cidranger"
)

var ranger cidranger.Ranger

func init() {
	ranger = cidranger.NewPCTrieRanger()
	for _, cidr := range []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918
		"192.168.0.0/16", // RFC1918
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
	} {
		_, block, _ := net.ParseCIDR(cidr)
		ranger.Insert(cidranger.NewBasicRangerEntry(*block))
	}
}

// IsPrivateIP check if IP is in private range
func IsPrivateIP(ip string) (bool, error) {
	ipn := net.ParseIP(ip)
	if ipn == nil {
		return false, errors.New(ip + " is not a valid IP address")
	}
	return ranger.Contains(ipn)
}
