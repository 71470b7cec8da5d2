package segmentation

import "fmt"

// NamingRule labels a segment whose profile satisfies Match.
type NamingRule struct {
	Label string
	Match func(p SegmentProfile) bool
}

// DefaultNamingRules returns the segment naming heuristics in precedence order.
func DefaultNamingRules() []NamingRule {
	return []NamingRule{
		{"Digital Elite", func(p SegmentProfile) bool {
			return p.Avg(FeatureTotalBalance) > 50000 && p.Avg(FeatureDigitalScore) > 80
		}},
		{"Traditional Affluent", func(p SegmentProfile) bool {
			return p.Avg(FeatureTotalBalance) > 50000 && p.Avg(FeatureDigitalScore) < 60
		}},
		{"Digital Natives", func(p SegmentProfile) bool {
			return p.Avg(FeatureAge) < 35 && p.Avg(FeatureDigitalScore) > 75
		}},
		{"At-Risk Customers", func(p SegmentProfile) bool {
			return p.Avg(FeatureChurnRiskScore) > 20
		}},
		{"New Customers", func(p SegmentProfile) bool {
			return p.Avg(FeatureTenureDays) < 365
		}},
		{"Dormant Savers", func(p SegmentProfile) bool {
			return p.Avg(FeatureTotalBalance) < 20000 && p.Avg(FeatureTxnFrequency) < 5
		}},
		{"Growing Professionals", func(p SegmentProfile) bool {
			return p.Avg(FeatureTotalBalance) > 30000 && p.Avg(FeatureDigitalScore) > 65
		}},
	}
}

// SegmentNamer applies naming rules in order; the first match wins.
type SegmentNamer struct {
	rules []NamingRule
}

func NewSegmentNamer(rules []NamingRule) SegmentNamer {
	return SegmentNamer{rules: rules}
}

// Name labels the segment at index. Empty segments and profiles matching no
// rule are "Standard Segment <index+1>".
func (n SegmentNamer) Name(index int, p SegmentProfile) string {
	if p.Size > 0 {
		for _, r := range n.rules {
			if r.Match(p) {
				return r.Label
			}
		}
	}
	return fmt.Sprintf("Standard Segment %d", index+1)
}

// NameAll labels every profiled segment.
func (n SegmentNamer) NameAll(profiles map[int]SegmentProfile) map[int]string {
	names := make(map[int]string, len(profiles))
	for idx, p := range profiles {
		names[idx] = n.Name(idx, p)
	}
	return names
}
