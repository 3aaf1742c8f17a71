package bus

import "fmt"

// Config is the bus connection boundary: consumed by Dial,
// never parsed here (XML/YAML config loading lives outside this module).
// SocketPath takes precedence over Host+Port when both are set.
type Config struct {
	SocketPath string
	Host       string
	Port       int
}

// dialAddr resolves Config to a Redis network/address pair, or a
// ConfigError if neither a socket path nor a host+port pair is present.
func (c Config) dialAddr() (network, addr string, err error) {
	if c.SocketPath != "" {
		return "unix", c.SocketPath, nil
	}
	if c.Host != "" && c.Port != 0 {
		return "tcp", fmt.Sprintf("%s:%d", c.Host, c.Port), nil
	}
	return "", "", &ConfigError{Reason: "requires a socket path or host+port"}
}
