package providers

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/ruralpay/tourwallet/internal/config"
)

// Registry maps provider keys to adapters. It is built once and only read
// afterwards, so lookups take no lock.
type Registry struct {
	adapters map[ProviderKey]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	m := make(map[ProviderKey]Adapter, len(adapters))
	for _, a := range adapters {
		if _, dup := m[a.Key()]; dup {
			return nil, fmt.Errorf("provider %s registered twice", a.Key())
		}
		m[a.Key()] = a
	}
	return &Registry{adapters: m}, nil
}

// Resolve returns the adapter for key or an UnknownProviderError
func (r *Registry) Resolve(key string) (Adapter, error) {
	k, err := ParseProviderKey(key)
	if err != nil {
		return nil, err
	}
	a, ok := r.adapters[k]
	if !ok {
		return nil, &UnknownProviderError{Key: key}
	}
	return a, nil
}

func (r *Registry) Keys() []ProviderKey {
	keys := make([]ProviderKey, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// FromConfig builds adapters for every enabled provider in cfgs
func FromConfig(cfgs []config.ProviderConfig, client *http.Client) (*Registry, error) {
	var adapters []Adapter
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		key, err := ParseProviderKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		switch key {
		case Card:
			adapters = append(adapters, NewCardAdapter(cfg, client))
		case MobileMoney:
			adapters = append(adapters, NewMobileMoneyAdapter(cfg, client))
		case BankTransfer:
			adapters = append(adapters, NewBankTransferAdapter(cfg, client))
		case QRVoucher:
			adapters = append(adapters, NewQRVoucherAdapter(cfg))
		}
	}
	return NewRegistry(adapters...)
}
