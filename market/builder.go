package market

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/golemfactory/golem-go/api"
)

// Well-known demand/offer property keys.
const (
	PropNodeName              = "golem.node.id.name"
	PropSubnet                = "golem.node.debug.subnet"
	PropExpiration            = "golem.srv.comp.expiration"
	PropMultiActivity         = "golem.srv.caps.multi-activity"
	PropPricingModel          = "golem.com.pricing.model"
	PropLinearCoeffs          = "golem.com.pricing.model.linear.coeffs"
	PropUsageVector           = "golem.com.usage.vector"
	PropBillingScheme         = "golem.com.scheme"
	PropChosenPlatform        = "golem.com.payment.chosen-platform"
	PropDebitNoteAcceptTime   = "golem.com.payment.debit-notes.accept-timeout?"
	PropPaymentPlatformPrefix = "golem.com.payment.platform."
)

// Usage counters priced by linear billing.
const (
	CounterTime = "golem.usage.duration_sec"
	CounterCPU  = "golem.usage.cpu_sec"
)

// ComparisonOp is the relation used in a single demand constraint clause.
type ComparisonOp string

const (
	OpEq   ComparisonOp = "="
	OpLt   ComparisonOp = "<"
	OpGt   ComparisonOp = ">"
	OpGtEq ComparisonOp = ">="
	OpLtEq ComparisonOp = "<="
)

// DemandBuilder accumulates properties and constraint clauses from the
// package descriptor, allocations and base requestor settings, and
// produces the demand descriptor published on the market. Adding a
// property with an existing key overwrites the previous value.
type DemandBuilder struct {
	properties  map[string]interface{}
	order       []string
	constraints []string
}

func NewDemandBuilder() *DemandBuilder {
	return &DemandBuilder{properties: map[string]interface{}{}}
}

func (b *DemandBuilder) AddProperty(key string, value interface{}) *DemandBuilder {
	if _, ok := b.properties[key]; !ok {
		b.order = append(b.order, key)
	}
	b.properties[key] = value
	return b
}

func (b *DemandBuilder) AddConstraint(key string, op ComparisonOp, value interface{}) *DemandBuilder {
	b.constraints = append(b.constraints, fmt.Sprintf("(%s%s%v)", key, op, value))
	return b
}

// AddDecoration merges properties and constraint clauses produced by a
// collaborator (package descriptor, allocation demand decorations).
func (b *DemandBuilder) AddDecoration(d api.DemandDescriptor) *DemandBuilder {
	for _, key := range sortedKeys(d.Properties) {
		b.AddProperty(key, d.Properties[key])
	}
	for _, cons := range d.Constraints {
		b.constraints = append(b.constraints, cons)
	}
	return b
}

func (b *DemandBuilder) Build() api.DemandDescriptor {
	props := make(map[string]interface{}, len(b.properties))
	for k, v := range b.properties {
		props[k] = v
	}
	cons := make([]string, len(b.constraints))
	copy(cons, b.constraints)
	return api.DemandDescriptor{Properties: props, Constraints: cons}
}

// JoinConstraints renders constraint clauses as a single conjunction in
// the daemon's LDAP-like filter syntax.
func JoinConstraints(clauses []string) string {
	switch len(clauses) {
	case 0:
		return "(&)"
	case 1:
		return clauses[0]
	default:
		return "(&" + strings.Join(clauses, "\n\t") + ")"
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pricing is the linear billing information carried by an offer.
type Pricing struct {
	Fixed      float64
	PerCounter map[string]float64
}

// ParsePricing extracts linear pricing from offer properties. The coeffs
// vector is ordered by the usage vector, with the fixed price appended
// last.
func ParsePricing(props map[string]interface{}) (Pricing, error) {
	coeffs, err := toFloats(props[PropLinearCoeffs])
	if err != nil || len(coeffs) == 0 {
		return Pricing{}, xerrors.Errorf("offer has no usable %s property", PropLinearCoeffs)
	}
	usage, err := toStrings(props[PropUsageVector])
	if err != nil {
		return Pricing{}, xerrors.Errorf("offer has no usable %s property", PropUsageVector)
	}
	if len(coeffs) != len(usage)+1 {
		return Pricing{}, xerrors.Errorf("pricing coeffs (%d) do not match usage vector (%d)", len(coeffs), len(usage))
	}
	p := Pricing{
		Fixed:      coeffs[len(coeffs)-1],
		PerCounter: make(map[string]float64, len(usage)),
	}
	for i, counter := range usage {
		p.PerCounter[counter] = coeffs[i]
	}
	return p, nil
}

func toFloats(v interface{}) ([]float64, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, xerrors.New("not a list")
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, ok := item.(float64)
		if !ok {
			return nil, xerrors.Errorf("not a number: %v", item)
		}
		out = append(out, f)
	}
	return out, nil
}

func toStrings(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, xerrors.New("not a list")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, xerrors.Errorf("not a string: %v", item)
		}
		out = append(out, s)
	}
	return out, nil
}
