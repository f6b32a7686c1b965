package broker

import "golang.org/x/time/rate"

// newInboundLimiter returns a token-bucket limiter bounding how fast one
// session may submit frames, the inbound half of §5's backpressure
// requirement (the spec only names outbound tx backpressure explicitly;
// this extends the same discipline to the read side so one abusive
// session cannot monopolize the registry lock).
func newInboundLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(inboundRateLimit), inboundRateBurst)
}
