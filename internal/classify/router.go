package classify

// Route is the router's decision for a classification result
type Route string

const (
	// RouteAutoAccept creates a job record without human review
	RouteAutoAccept Route = "accepted"
	// RouteAutoReject discards the verdict (counted, not persisted)
	RouteAutoReject Route = "rejected"
	// RouteNeedsReview queues the verdict for a human
	RouteNeedsReview Route = "review"
	// RouteFiltered marks bulk mail dropped before classification
	RouteFiltered Route = "filtered"
)

// Band is a labeled confidence range
type Band string

const (
	BandVeryLow  Band = "very-low"
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandVeryHigh Band = "very-high"
)

// bandEdge maps the lower bound of each band to its label, checked in
// descending order. The labels are display policy; routing uses the
// functional thresholds below.
type bandEdge struct {
	Min  float64
	Band Band
}

var bandTable = []bandEdge{
	{0.9, BandVeryHigh},
	{0.7, BandHigh},
	{0.5, BandMedium},
	{0.3, BandLow},
	{0.0, BandVeryLow},
}

// Router maps a classification confidence to a routing decision.
// Thresholds are configuration, not code: Approve and Review are the
// canonical 0.9/0.7 functional thresholds, Reject the floor below which a
// job-related verdict is discarded outright.
type Router struct {
	ApproveThreshold float64 // >= this: auto-accept
	ReviewThreshold  float64 // below this: needs review regardless of verdict
	RejectThreshold  float64 // below this: auto-reject
}

// NewRouter creates a Router with the given functional thresholds
func NewRouter(approve, review, reject float64) *Router {
	return &Router{
		ApproveThreshold: approve,
		ReviewThreshold:  review,
		RejectThreshold:  reject,
	}
}

// BandFor returns the labeled band for a confidence value
func BandFor(confidence float64) Band {
	for _, e := range bandTable {
		if confidence >= e.Min {
			return e.Band
		}
	}
	return BandVeryLow
}

// Decide maps a result to a route.
//
// Not-job-related verdicts: a confident "not a job email" is an auto-reject;
// an unconfident one still needs a human look. Job-related verdicts: accepted
// only at or above the approve threshold, rejected below the reject floor,
// reviewed in between.
func (r *Router) Decide(res *Result) Route {
	if !res.IsJobRelated {
		if res.Confidence >= r.ReviewThreshold {
			return RouteAutoReject
		}
		return RouteNeedsReview
	}

	switch {
	case res.Confidence >= r.ApproveThreshold:
		return RouteAutoAccept
	case res.Confidence < r.RejectThreshold:
		return RouteAutoReject
	default:
		return RouteNeedsReview
	}
}

// Unambiguous reports whether a fast-tier probability is decisive enough to
// skip the deep classifier: at or above the approve threshold, or so low that
// the email is plainly not job-related.
func (r *Router) Unambiguous(probability float64) bool {
	return probability >= r.ApproveThreshold || probability <= 1-r.ApproveThreshold
}
