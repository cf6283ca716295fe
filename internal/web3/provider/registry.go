package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ZyndAI-Connect/internal/web3"
	"ZyndAI-Connect/internal/web3/ethereum"
)

// Registry manages receipt readers keyed by network name.
type Registry struct {
	readers map[string]web3.ReceiptReader
}

// NewRegistry dials every network in the table that has an RPC endpoint.
func NewRegistry(ctx context.Context, networks *web3.Networks) (*Registry, error) {
	readers := make(map[string]web3.ReceiptReader)
	for _, network := range networks.WithRPC() {
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:    network.Name,
			RPCURL:  network.RPCURL,
			ChainID: network.ChainID,
		})
		if err != nil {
			for _, r := range readers {
				r.Close()
			}
			return nil, fmt.Errorf("初始化链 %s 失败: %w", network.Name, err)
		}
		readers[network.Name] = client
	}
	return &Registry{readers: readers}, nil
}

// NewStaticRegistry wraps pre-built readers.
func NewStaticRegistry(readers map[string]web3.ReceiptReader) *Registry {
	set := make(map[string]web3.ReceiptReader, len(readers))
	for name, r := range readers {
		set[strings.ToLower(name)] = r
	}
	return &Registry{readers: set}
}

// Reader returns the receipt reader for a network.
func (r *Registry) Reader(network string) (web3.ReceiptReader, bool) {
	if r == nil {
		return nil, false
	}
	reader, ok := r.readers[strings.ToLower(strings.TrimSpace(network))]
	return reader, ok
}

// Close releases all readers managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, reader := range r.readers {
		if reader != nil {
			reader.Close()
		}
		delete(r.readers, name)
	}
}

// Networks returns the sorted list of networks with a reader.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.readers))
	for name := range r.readers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
