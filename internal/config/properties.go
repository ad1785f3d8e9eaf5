// Package config loads the server and client configuration from yaml
// properties files, expanding ${ENV} references.
package config

import (
	"tabletdb/internal/catalog"
	"tabletdb/internal/quorum"
)

type MasterProperties struct {
	FSRoot            string   `yaml:"fs-root"`
	RPCAddress        string   `yaml:"rpc-address"`
	MetricsAddress    string   `yaml:"metrics-address"`
	Distributed       bool     `yaml:"distributed"`
	Leader            bool     `yaml:"leader"`
	LeaderAddress     string   `yaml:"leader-address"`
	FollowerAddresses []string `yaml:"follower-addresses"`
	WriteTimeoutMs    uint64   `yaml:"write-timeout-ms"`
}

type ClientProperties struct {
	MasterServerAddr    string `yaml:"master-server-addr"`
	TimeoutMs           uint64 `yaml:"timeout-ms"`
	MutationBufferBytes int    `yaml:"mutation-buffer-bytes"`
}

type ApplicationProperties struct {
	LogLevel string `yaml:"log-level"`
}

type Config struct {
	Application ApplicationProperties `yaml:"app"`
	Master      MasterProperties      `yaml:"master"`
	Client      ClientProperties      `yaml:"client"`
}

// CatalogOptions converts the yaml view into the catalog's typed options.
func (p MasterProperties) CatalogOptions() (catalog.Options, error) {
	opts := catalog.Options{
		Distributed: p.Distributed,
		Leader:      p.Leader,
	}

	local, err := quorum.ParseHostPort(p.RPCAddress)
	if err != nil {
		return catalog.Options{}, err
	}
	opts.LocalAddress = local

	if p.Distributed {
		if !p.Leader {
			leader, err := quorum.ParseHostPort(p.LeaderAddress)
			if err != nil {
				return catalog.Options{}, err
			}
			opts.LeaderAddress = leader
		}
		for _, f := range p.FollowerAddresses {
			hp, err := quorum.ParseHostPort(f)
			if err != nil {
				return catalog.Options{}, err
			}
			opts.FollowerAddresses = append(opts.FollowerAddresses, hp)
		}
	}
	return opts, nil
}
