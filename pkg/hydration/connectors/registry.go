package connectors

// DefaultRegistry returns a Registry preloaded with the three built-in
// source types named in §6: google_drive, google_drive_public, server_fs.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("google_drive", NewGoogleDriveConnector)
	r.Register("google_drive_public", NewGoogleDrivePublicConnector)
	r.Register("server_fs", NewServerFSConnector)
	return r
}
