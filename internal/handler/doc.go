// Package handler relays one request/response exchange between an accepted
// client connection and a backend picked by the load balancer.
//
// When no backend is active the client receives the literal bytes
// "503 Service Unavailable" and the connection is closed. Every other failure
// shows up to the client as a closed connection without a response.
package handler
