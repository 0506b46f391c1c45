package fulfillment

import (
	"time"

	"github.com/imrishuroy/go-order-fulfillment/internal/geo"
	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
)

// estimateDelivery returns the time a courier at from reaches the order's destination.
// Without both coordinates it falls back to now + the default delivery ETA.
func (s *Service) estimateDelivery(o *orders.Order, from *orders.Coordinates, now time.Time) time.Time {
	if from == nil || o.Destination == nil {
		return now.Add(s.opts.DefaultDeliveryETA).UTC()
	}
	d := geo.HaversineMeters(toPoint(*from), toPoint(*o.Destination))
	return now.Add(geo.TravelTime(d, s.opts.CourierSpeedKmh)).UTC()
}

// isNearby reports whether at is within the nearby radius of the order's destination.
func (s *Service) isNearby(o *orders.Order, at orders.Coordinates) bool {
	if o.Destination == nil || s.opts.NearbyRadiusMeters <= 0 {
		return false
	}
	return geo.IsWithinRadius(toPoint(at), toPoint(*o.Destination), s.opts.NearbyRadiusMeters)
}

func toPoint(c orders.Coordinates) geo.Point {
	return geo.Point{Lat: c.Lat, Lng: c.Lng}
}
