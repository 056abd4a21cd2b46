// Package model defines the request, response and event bodies exchanged
// between frontend and backend.
//
// Every body registers itself with the rpc package under its action name,
// so importing this package is enough to decode any of them.
package model
