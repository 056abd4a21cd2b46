// Package rpc implements request/response messaging over a broker.Broker.
//
// A Request carries a correlation id and the reply topic of the caller; the
// server echoes the id on every Response it sends back. The Matcher maps
// outstanding correlation ids to callbacks, completing each call exactly
// once: by its terminal (Last) response, by its timeout, or by transport
// loss. Subscription streams are keyed by subscription id instead and stay
// open until the caller stops listening.
//
// Bodies are a tagged union. Each body type reports its action name and is
// registered with RegisterBody so the codec can decode it by the "action"
// field of the JSON body.
package rpc
