package service

// Server serves a debug module to remote clients.
type Server interface {
	// Run starts accepting connections and returns immediately.
	Run() error
	// Stop closes the listener and every open session.
	Stop() error
}
