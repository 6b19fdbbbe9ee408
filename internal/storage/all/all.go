// Package all registers every storage backend with the storage factory.
// Config picks the backend at runtime, so the binary carries all of them.
package all

import (
	_ "repscan/internal/storage/file"
	_ "repscan/internal/storage/mssql"
	_ "repscan/internal/storage/natssink"
	_ "repscan/internal/storage/postgres"
	_ "repscan/internal/storage/sqlite"
)
