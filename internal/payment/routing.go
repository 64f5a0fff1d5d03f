package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clinicdesk/clinic-api/internal/gateway"
)

var ErrUnknownGateway = errors.New("no gateway registered for route")

// RoutingRule maps a doctor's country to a gateway name. Swapping the
// international provider means changing this function and registering one
// adapter; the orchestrator stays untouched.
type RoutingRule func(countryCode string) string

// DefaultRouting sends Indian doctors through the domestic gateway and
// everyone else through the international one.
func DefaultRouting(countryCode string) string {
	if strings.EqualFold(countryCode, "IN") {
		return gateway.NameRazorpay
	}
	return gateway.NamePayPal
}

// Registry holds the configured gateway adapters by name.
type Registry map[string]gateway.Gateway

func NewRegistry(gateways ...gateway.Gateway) Registry {
	r := make(Registry, len(gateways))
	for _, g := range gateways {
		r[g.Name()] = g
	}
	return r
}

func (r Registry) Get(name string) (gateway.Gateway, error) {
	g, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, name)
	}
	return g, nil
}
