package merchant

import "time"

// Tier buckets merchant reputation from rating average and completed volume.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Profile mirrors the merchant_profiles table. Tier and AverageRating are
// caches of the last aggregate computation, recomputed on every update.
type Profile struct {
	ID                   string
	UserID               string
	TotalOrders          int
	CompletedOrders      int
	RatingSum            int
	RatingCount          int
	AverageRating        float64
	Tier                 Tier
	LastOfferActivatedAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TierFor derives the tier bucket. Both thresholds must hold: a high average
// on a thin completion history stays bronze.
func TierFor(average float64, completedOrders int) Tier {
	switch {
	case average >= 4.5 && completedOrders >= 50:
		return TierGold
	case average >= 4.0 && completedOrders >= 20:
		return TierSilver
	default:
		return TierBronze
	}
}
