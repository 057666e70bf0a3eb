package alloc

import (
	"sort"

	"plantline/internal/domain"
)

// Priority scores an order by its asset's risk weight scaled up as health
// degrades. An unknown asset (nil) scores 0 and sinks to the back of the
// queue; that is not an error.
func Priority(asset *domain.Asset) float64 {
	if asset == nil {
		return 0.0
	}
	health := asset.HealthScore
	if health < 1 {
		health = 1
	}
	return asset.RiskLevel / (health / 100.0)
}

// Rank returns orders sorted by priority descending. The sort is stable so
// equal-priority orders keep their input order, which keeps allocation
// passes deterministic.
func Rank(orders []domain.MaintenanceOrder, assets map[string]*domain.Asset) []domain.MaintenanceOrder {
	ranked := make([]domain.MaintenanceOrder, len(orders))
	copy(ranked, orders)
	for i := range ranked {
		ranked[i].Priority = Priority(assets[ranked[i].AssetID])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})
	return ranked
}
