package gocbmcx

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/couchbaselabs/gocbconnstr/v2"
	pkgerrors "github.com/pkg/errors"
)

const connStrScheme = "memcached"

// ParseConnStr builds a ClientConfig from a connection string such as
// memcached://localhost:11211?dial_timeout=2s&write_buffer_size=65536.
// The scheme may be omitted, as may the port.
func ParseConnStr(connStr string) (*ClientConfig, error) {
	// gocbconnstr only knows the couchbase schemes, so ours is removed first
	if schemeIdx := strings.Index(connStr, "://"); schemeIdx >= 0 {
		scheme := connStr[:schemeIdx]
		if scheme != connStrScheme {
			return nil, fmt.Errorf("unsupported connection string scheme `%s`", scheme)
		}
		connStr = connStr[schemeIdx+3:]
	}

	spec, err := gocbconnstr.Parse(connStr)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to parse connection string")
	}

	if len(spec.Addresses) != 1 {
		return nil, fmt.Errorf("connection string must name exactly one host, found %d", len(spec.Addresses))
	}

	addr := spec.Addresses[0]
	if addr.Host == "" {
		return nil, fmt.Errorf("connection string has an empty host")
	}

	port := addr.Port
	if port <= 0 {
		port = DefaultPort
	}

	config := &ClientConfig{
		Address: net.JoinHostPort(addr.Host, strconv.Itoa(port)),
	}

	for name, values := range spec.Options {
		if len(values) == 0 {
			continue
		}
		value := values[len(values)-1]

		switch name {
		case "dial_timeout":
			dialTimeout, err := time.ParseDuration(value)
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "invalid dial_timeout `%s`", value)
			}
			config.DialTimeout = dialTimeout
		case "write_buffer_size":
			size, err := strconv.Atoi(value)
			if err != nil || size <= 0 {
				return nil, fmt.Errorf("invalid write_buffer_size `%s`", value)
			}
			config.WriteBufferSize = size
		default:
			return nil, fmt.Errorf("unknown connection string option `%s`", name)
		}
	}

	return config, nil
}
