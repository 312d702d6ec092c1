package postgres

import "formmap/internal/storage"

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}
