package adapters

import (
	"strings"

	"github.com/smallbiznis/tally/internal/payment/domain"
)

// Registry resolves the gateway responsible for a payment method. The first
// gateway registered for a method wins.
type Registry struct {
	byMethod map[domain.Method]domain.Gateway
	byName   map[string]domain.Gateway
}

func NewRegistry(gateways ...domain.Gateway) *Registry {
	registry := &Registry{
		byMethod: map[domain.Method]domain.Gateway{},
		byName:   map[string]domain.Gateway{},
	}
	for _, gateway := range gateways {
		if gateway == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(gateway.Name()))
		if name == "" {
			continue
		}
		registry.byName[name] = gateway
		for _, method := range gateway.Methods() {
			if _, taken := registry.byMethod[method]; taken {
				continue
			}
			registry.byMethod[method] = gateway
		}
	}
	return registry
}

func (r *Registry) ForMethod(method domain.Method) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrGatewayNotFound
	}
	gateway, ok := r.byMethod[method]
	if !ok {
		return nil, domain.ErrGatewayNotFound
	}
	return gateway, nil
}

// ByName looks up the gateway that processed an earlier payment, used when refunding.
func (r *Registry) ByName(name string) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrGatewayNotFound
	}
	gateway, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrGatewayNotFound
	}
	return gateway, nil
}

func (r *Registry) Methods() []domain.Method {
	if r == nil {
		return nil
	}
	methods := make([]domain.Method, 0, len(r.byMethod))
	for method := range r.byMethod {
		methods = append(methods, method)
	}
	return methods
}
