package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FactoryNetwork lists the addresses that count as on-site devices.
type FactoryNetwork struct {
	CIDRs            []string `yaml:"cidrs"`
	HostnameSuffixes []string `yaml:"hostname_suffixes"`
}

// LoadFactoryNetwork loads and validates the factory network file.
func LoadFactoryNetwork(path string) (*FactoryNetwork, error) {
	if path == "" {
		path = "configs/factory_network.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read factory network: %w", err)
	}

	var fn FactoryNetwork
	if err := yaml.Unmarshal(data, &fn); err != nil {
		return nil, fmt.Errorf("parse factory network: %w", err)
	}
	if err := fn.Validate(); err != nil {
		return nil, fmt.Errorf("validate factory network: %w", err)
	}
	return &fn, nil
}

// Validate checks that every CIDR parses and no suffix is blank.
func (f *FactoryNetwork) Validate() error {
	for i, c := range f.CIDRs {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(c)); err != nil {
			return fmt.Errorf("cidrs[%d]: invalid CIDR '%s'", i, c)
		}
	}
	for i, s := range f.HostnameSuffixes {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("hostname_suffixes[%d]: empty suffix", i)
		}
	}
	return nil
}

func (f *FactoryNetwork) String() string {
	return fmt.Sprintf("FactoryNetwork: %d cidrs, %d hostname suffixes", len(f.CIDRs), len(f.HostnameSuffixes))
}
