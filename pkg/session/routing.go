package session

import (
	"github.com/zenmesh/transport/pkg/quality"
	"github.com/zenmesh/transport/pkg/types"
)

// Tier describes one quality tier's bandwidth ceiling, matching the
// OutputRoute.QualityTier strings ("high"/"medium"/"low").
type Tier struct {
	Name            string
	MaxBitrateKbps  int
}

// DefaultTiers mirrors the usual 1080p/720p/360p quality split.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "high", MaxBitrateKbps: 3000},
		{Name: "medium", MaxBitrateKbps: 1500},
		{Name: "low", MaxBitrateKbps: 500},
	}
}

// SelectTier picks the highest tier whose ceiling fits within the available
// bandwidth, falling back to the lowest tier if none fit.
func SelectTier(tiers []Tier, availableKbps int) string {
	selected := ""
	if len(tiers) > 0 {
		selected = tiers[len(tiers)-1].Name
	}

	for _, tier := range tiers {
		if tier.MaxBitrateKbps <= availableKbps {
			return tier.Name
		}
	}
	return selected
}

// RoutesForQuality builds a Selective RoutingPolicy's routes by grouping
// session peers into quality tiers based on their most recent quality
// samples, one OutputRoute per tier-matching manifest output id.
func RoutesForQuality(outputIDsByTier map[string]string, peers []types.PeerID, monitor *quality.Monitor, tiers []Tier) []types.OutputRoute {
	byTier := make(map[string][]types.PeerID)

	for _, id := range peers {
		sample, ok := monitor.Current(id)
		tierName := "high"
		if ok {
			tierName = SelectTier(tiers, sample.BandwidthKbps)
		}
		byTier[tierName] = append(byTier[tierName], id)
	}

	routes := make([]types.OutputRoute, 0, len(byTier))
	for tierName, tierPeers := range byTier {
		outputID, ok := outputIDsByTier[tierName]
		if !ok {
			continue
		}
		routes = append(routes, types.OutputRoute{OutputID: outputID, TargetPeers: tierPeers, QualityTier: tierName})
	}
	return routes
}
