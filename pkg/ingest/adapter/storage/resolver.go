package storage

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"

	config "github.com/tigerroll/ingot/pkg/ingest/core/config"
)

// ConnectionResolver dispatches a named storage connection to the provider
// matching its configured type.
type ConnectionResolver struct {
	providers map[string]StorageProvider // keyed by backend type (e.g., "local", "gcs")
	cfg       *config.Config
}

// ResolverParams defines the dependencies for NewConnectionResolver.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"` // All StorageProviders provided by Fx as a slice.
	Cfg       *config.Config
}

// NewConnectionResolver creates a new ConnectionResolver.
func NewConnectionResolver(p ResolverParams) *ConnectionResolver {
	providerMap := make(map[string]StorageProvider)
	for _, provider := range p.Providers {
		providerMap[provider.Type()] = provider
	}
	return &ConnectionResolver{
		providers: providerMap,
		cfg:       p.Cfg,
	}
}

// ResolveStorageConnection resolves a storage connection with the specified name.
func (r *ConnectionResolver) ResolveStorageConnection(name string) (StorageConnection, error) {
	rawConfig, ok := r.cfg.Ingot.StorageConfigs[name]
	if !ok {
		return nil, fmt.Errorf("storage configuration '%s' not found in ingot.storage configs", name)
	}

	var tempCfg struct {
		Type string `yaml:"type"`
	}
	decoderConfig := &mapstructure.DecoderConfig{
		Result:  &tempCfg,
		TagName: "yaml",
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder for storage config '%s': %w", name, err)
	}
	if err := decoder.Decode(rawConfig); err != nil {
		return nil, fmt.Errorf("failed to decode storage type for '%s': %w", name, err)
	}

	provider, ok := r.providers[tempCfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", tempCfg.Type, name)
	}
	return provider.GetConnection(name)
}

var _ StorageConnectionResolver = (*ConnectionResolver)(nil)
