package net

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// GetOutgoingIP finds the preferred local IP address for the host to share.
func GetOutgoingIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		// No route to the internet: fall back to the first usable interface.
		return firstIPv4().String()
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func firstIPv4() net.IP {
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}

// ShareLink is the websocket URL participants join with.
func ShareLink(host string, port int) string {
	return (&url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: "/ws"}).String()
}

// JoinURL turns a share link, a host:port or an http base URL into the
// websocket URL for itemID.
func JoinURL(target, itemID string) (string, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		u, err = url.Parse("ws://" + target)
		if err != nil {
			return "", fmt.Errorf("invalid server address %q: %w", target, err)
		}
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if itemID != "" {
		q := u.Query()
		q.Set("item", itemID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// HTTPBase turns a websocket URL or host:port into the http base URL of the
// same server.
func HTTPBase(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + target)
		if err != nil {
			return "", fmt.Errorf("invalid server address %q: %w", target, err)
		}
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}
