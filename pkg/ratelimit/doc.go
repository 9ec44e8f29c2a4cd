// Package ratelimit paces browser actions and spots throttling.
//
// TokenBucket limits how many actions (navigations, DOM snapshots, scroll
// steps) the harvester performs per minute. SlidingWindow caps how often the
// control API accepts start requests. DetectRateLimit scans the visible page
// chrome (text outside post containers) for throttle phrases; its result is
// advisory and never aborts a run.
package ratelimit
