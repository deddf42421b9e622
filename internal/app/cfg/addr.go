// Package cfg implements functionality to configure an app.
//
// The configuration objects defined here need only be implemented once,
// but can be applied to multiple types.
//
// In order to add support for a new type, the configuration
// need only implement an ApplyX method.
package cfg

import (
	"net"
	"strconv"

	"rtspc/internal"
	"rtspc/internal/app/apps"
)

// AddrCfg is configuration for the server's control address.
type AddrCfg struct {
	host string
	port int
}

// NewAddrCfg creates a new AddrCfg from the given config.
func NewAddrCfg(host string, port int) *AddrCfg {
	return &AddrCfg{
		host: host,
		port: port,
	}
}

// AddrFromEnv creates a new AddrCfg from the current environment.
func AddrFromEnv() *AddrCfg {
	return &AddrCfg{
		host: internal.Host,
		port: internal.Port,
	}
}

func (cfg AddrCfg) addr() string {
	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

// ApplyClientApp applies the AddrCfg to a ClientApp.
func (cfg AddrCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.ServerAddr = cfg.addr()
	return nil
}

// ApplyServerApp applies the AddrCfg to a ServerApp.
func (cfg AddrCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.ListenAddr = cfg.addr()
	return nil
}
