// Package capi shapes marketing events for the ad platform's Conversions API
// and delivers them.
//
// The pipeline is: Forwarder.Send builds an Event from the request context,
// Normalizer classifies and hashes its user data into a Payload, and Client
// posts the payload as a single-element batch. Delivery is at-most-once:
// there is no retry and no local queue, and transport failures are logged
// rather than returned.
package capi
