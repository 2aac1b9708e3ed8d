package common

import (
	"fmt"
	"os"
	"path/filepath"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

type TokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int32  `yaml:"decimals"`
}

// NetworkConfig holds the deployed contract addresses for one chain
type NetworkConfig struct {
	ChainId     uint64      `yaml:"chain_id"`
	Token       TokenConfig `yaml:"token"`
	EntryPoint  string      `yaml:"entry_point"`
	Factory     string      `yaml:"factory"`
	Beneficiary string      `yaml:"beneficiary"`
}

func (n *NetworkConfig) TokenAddress() ethcommon.Address {
	return ethcommon.HexToAddress(n.Token.Address)
}

func (n *NetworkConfig) EntryPointAddress() ethcommon.Address {
	return ethcommon.HexToAddress(n.EntryPoint)
}

func (n *NetworkConfig) FactoryAddress() ethcommon.Address {
	return ethcommon.HexToAddress(n.Factory)
}

// BeneficiaryAddress falls back to the given address when none is configured.
func (n *NetworkConfig) BeneficiaryAddress(fallback ethcommon.Address) ethcommon.Address {
	if n.Beneficiary == "" {
		return fallback
	}
	return ethcommon.HexToAddress(n.Beneficiary)
}

func LoadNetworkConfig(networkFile string) (*NetworkConfig, error) {
	var networkPath string
	if filepath.IsAbs(networkFile) {
		networkPath = networkFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		networkPath = filepath.Join(wd, networkFile)
	}

	data, err := os.ReadFile(networkPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", networkFile, err)
	}

	return ParseNetworkConfig(data)
}

func ParseNetworkConfig(data []byte) (*NetworkConfig, error) {
	var config NetworkConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse network config: %w", err)
	}

	required := []struct {
		field string
		value string
	}{
		{"token.address", config.Token.Address},
		{"entry_point", config.EntryPoint},
		{"factory", config.Factory},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("network config missing %s", r.field)
		}
		if !ethcommon.IsHexAddress(r.value) {
			return nil, fmt.Errorf("network config %s is not an address: %q", r.field, r.value)
		}
	}
	if config.Beneficiary != "" && !ethcommon.IsHexAddress(config.Beneficiary) {
		return nil, fmt.Errorf("network config beneficiary is not an address: %q", config.Beneficiary)
	}
	if config.Token.Decimals < 0 || config.Token.Decimals > 36 {
		return nil, fmt.Errorf("network config token.decimals out of range: %d", config.Token.Decimals)
	}
	if config.Token.Symbol == "" {
		config.Token.Symbol = "TOKEN"
	}

	return &config, nil
}
