package crawler

import "github.com/JakeFAU/crawlengine/internal/job"

// retainProxy returns the request to send for attempt. A pinned proxy is kept
// while attempt/maxTries stays at or below prop and stripped afterwards, so
// the fetcher can fall back to its own proxy choice.
func retainProxy(req *job.Request, attempt, maxTries int, prop float64) *job.Request {
	if req.Proxy == "" || maxTries <= 0 {
		return req
	}
	if float64(attempt)/float64(maxTries) > prop {
		return req.WithoutProxy()
	}
	return req
}
