package payment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic-api/internal/gateway"
)

func TestDefaultRouting(t *testing.T) {
	require.Equal(t, gateway.NameRazorpay, DefaultRouting("IN"))
	require.Equal(t, gateway.NameRazorpay, DefaultRouting("in"))
	require.Equal(t, gateway.NamePayPal, DefaultRouting("US"))
	require.Equal(t, gateway.NamePayPal, DefaultRouting("GB"))
	require.Equal(t, gateway.NamePayPal, DefaultRouting(""))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("stripe")
	require.ErrorIs(t, err, ErrUnknownGateway)
}
