package market

// Score thresholds shared by strategies.
const (
	ScoreNeutral  = 0.0
	ScoreRejected = -1.0
	ScoreTrusted  = 100.0
)

// ComputationHistory reports past provider behaviour. The agreement pool
// implements it; strategies use it to penalize repeat offenders.
type ComputationHistory interface {
	IsProviderLastAgreementRejected(providerID string) bool
}

// Strategy decides demand decoration and offer scoring. An offer scoring
// below zero is rejected during negotiation.
type Strategy interface {
	DecorateDemand(b *DemandBuilder)
	ScoreProposal(p *Proposal) float64
}

// LeastExpensive scores linear pay-as-you-use offers by their expected
// price over ExpectedDuration, with optional price caps. Unsupported
// billing schemes and negative prices score as rejected.
type LeastExpensive struct {
	ExpectedDurationSec float64
	MaxFixedPrice       float64 // 0 means no cap
	MaxPriceFor         map[string]float64
}

var _ Strategy = (*LeastExpensive)(nil)

func (s *LeastExpensive) DecorateDemand(b *DemandBuilder) {
	b.AddConstraint(PropPricingModel, OpEq, "linear")
}

func (s *LeastExpensive) ScoreProposal(p *Proposal) float64 {
	pricing, err := ParsePricing(p.Properties)
	if err != nil {
		log.Debugw("rejecting offer with unusable pricing", "proposal", p.ID, "err", err)
		return ScoreRejected
	}
	if pricing.Fixed < 0 {
		return ScoreRejected
	}
	if s.MaxFixedPrice > 0 && pricing.Fixed > s.MaxFixedPrice {
		return ScoreRejected
	}

	expected := pricing.Fixed
	for counter, price := range pricing.PerCounter {
		if counter != CounterTime && counter != CounterCPU {
			log.Debugw("rejecting offer with unsupported usage counter", "proposal", p.ID, "counter", counter)
			return ScoreRejected
		}
		if price < 0 {
			return ScoreRejected
		}
		if cap, ok := s.MaxPriceFor[counter]; ok && price > cap {
			return ScoreRejected
		}
		expected += price * s.ExpectedDurationSec
	}

	// Higher expected price, lower score; always within (0, ScoreTrusted).
	return ScoreTrusted / (expected + 1.01)
}

// DecreaseScoreForUnconfirmedAgreement wraps a base strategy and scales
// down the score of providers whose previous agreement we observed being
// rejected.
type DecreaseScoreForUnconfirmedAgreement struct {
	Base    Strategy
	Factor  float64
	History ComputationHistory
}

var _ Strategy = (*DecreaseScoreForUnconfirmedAgreement)(nil)

func (s *DecreaseScoreForUnconfirmedAgreement) DecorateDemand(b *DemandBuilder) {
	s.Base.DecorateDemand(b)
}

func (s *DecreaseScoreForUnconfirmedAgreement) ScoreProposal(p *Proposal) float64 {
	score := s.Base.ScoreProposal(p)
	if score > 0 && s.History != nil && s.History.IsProviderLastAgreementRejected(p.IssuerID) {
		log.Debugw("decreasing score for provider with rejected last agreement", "proposal", p.ID, "provider", p.IssuerID)
		score *= s.Factor
	}
	return score
}

// DefaultStrategy returns the strategy used when the caller supplies
// none: least-expensive scoring softened for providers that failed to
// approve their previous agreement.
func DefaultStrategy(history ComputationHistory) Strategy {
	return &DecreaseScoreForUnconfirmedAgreement{
		Base:    &LeastExpensive{ExpectedDurationSec: 60},
		Factor:  0.5,
		History: history,
	}
}
