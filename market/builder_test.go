package market

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/golemfactory/golem-go/api"
)

func TestDemandBuilderOverwritesDuplicateKeys(t *testing.T) {
	b := NewDemandBuilder()
	b.AddProperty(PropSubnet, "devnet")
	b.AddProperty(PropMultiActivity, true)
	b.AddProperty(PropSubnet, "public")

	d := b.Build()
	require.Equal(t, "public", d.Properties[PropSubnet])
	require.Equal(t, true, d.Properties[PropMultiActivity])
	require.Len(t, d.Properties, 2)
}

func TestDemandBuilderMergesDecorations(t *testing.T) {
	b := NewDemandBuilder()
	b.AddProperty(PropSubnet, "public")
	b.AddConstraint(PropPricingModel, OpEq, "linear")

	b.AddDecoration(api.DemandDescriptor{
		Properties:  map[string]interface{}{"golem.srv.comp.task_package": "hash:sha3:deadbeef"},
		Constraints: []string{"(golem.inf.mem.gib>=0.5)"},
	})

	d := b.Build()
	require.Equal(t, "hash:sha3:deadbeef", d.Properties["golem.srv.comp.task_package"])
	require.Equal(t, []string{
		"(golem.com.pricing.model=linear)",
		"(golem.inf.mem.gib>=0.5)",
	}, d.Constraints)
}

func TestJoinConstraints(t *testing.T) {
	require.Equal(t, "(&)", JoinConstraints(nil))
	require.Equal(t, "(a=1)", JoinConstraints([]string{"(a=1)"}))
	require.Equal(t, "(&(a=1)\n\t(b<2))", JoinConstraints([]string{"(a=1)", "(b<2)"}))
}

func TestParsePricing(t *testing.T) {
	props := map[string]interface{}{
		PropLinearCoeffs: []interface{}{0.002, 0.001, 0.1},
		PropUsageVector:  []interface{}{CounterTime, CounterCPU},
	}

	p, err := ParsePricing(props)
	require.NoError(t, err)
	require.Equal(t, 0.1, p.Fixed)
	require.Equal(t, 0.002, p.PerCounter[CounterTime])
	require.Equal(t, 0.001, p.PerCounter[CounterCPU])
}

func TestParsePricingRejectsMalformedOffers(t *testing.T) {
	_, err := ParsePricing(map[string]interface{}{})
	require.Error(t, err)

	_, err = ParsePricing(map[string]interface{}{
		PropLinearCoeffs: []interface{}{0.1, 0.2},
		PropUsageVector:  []interface{}{CounterTime, CounterCPU},
	})
	require.Error(t, err)

	_, err = ParsePricing(map[string]interface{}{
		PropLinearCoeffs: []interface{}{"cheap"},
		PropUsageVector:  []interface{}{},
	})
	require.Error(t, err)
}
