package domain

import "time"

// Surcharge is a multiplicative adjustment applied to the fare subtotal.
type Surcharge struct {
	Name    string `json:"name"`
	RateBps int64  `json:"rateBps"`
	Amount  Money  `json:"amount"`
}

// FareBreakdown is a fully itemised fare. Total is the rounded sum the rider pays.
type FareBreakdown struct {
	RideClass       RideClass   `json:"rideClass"`
	BaseFare        Money       `json:"baseFare"`
	DistanceFare    Money       `json:"distanceFare"`
	TimeFare        Money       `json:"timeFare"`
	Subtotal        Money       `json:"subtotal"`
	MinimumApplied  bool        `json:"minimumApplied"`
	Surcharges      []Surcharge `json:"surcharges,omitempty"`
	Total           Money       `json:"total"`
	DistanceMeters  int64       `json:"distanceMeters"`
	DurationMinutes int64       `json:"durationMinutes,omitempty"`
	QuotedAt        time.Time   `json:"quotedAt"`
}
