package gocbmcx

import (
	"net"
	"strconv"
)

func hostPortFromNetAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}

	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String(), tcpAddr.Port
	}

	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}

	return host, port
}
