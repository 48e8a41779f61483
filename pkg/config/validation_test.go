package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaultConfig(t *testing.T) {
	require.NoError(t, Validate(GetDefaultConfig()))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logging.Level = "TRACE" }, "oneof"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "oneof"},
		{"backend type", func(c *Config) { c.Backends[DefaultBackend] = BackendConfig{Type: "postgres"} }, "oneof"},
		{"zero device handle", func(c *Config) { c.Devices[0].Handle = 0 }, "required"},
		{"bad client address", func(c *Config) { c.Devices[0].AllowedClients = []string{"not-an-ip"} }, "AllowedClients"},
		{"bad listen address", func(c *Config) { c.Server.Listen = "nowhere" }, "hostname_port"},
		{"name_max of one", func(c *Config) { c.Lookup.NameMax = 1 }, "gt"},
		{"metrics port", func(c *Config) { c.Metrics.Port = 70000 }, "max"},
		{"no devices", func(c *Config) { c.Devices = nil }, "at least one device"},
		{
			name: "duplicate device handle",
			mutate: func(c *Config) {
				c.Devices = append(c.Devices, DeviceConfig{Handle: c.Devices[0].Handle, Backend: DefaultBackend})
			},
			want: "duplicate device handle",
		},
		{"unknown backend", func(c *Config) { c.Devices[0].Backend = "archive" }, "not configured"},
		{"plb smaller than name_max", func(c *Config) { c.PLB.Size = 128 }, "plb.size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAcceptsClientRanges(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Devices[0].AllowedClients = []string{"10.0.0.0/8", "::1", "192.168.0.1"}
	assert.NoError(t, Validate(cfg))
}
