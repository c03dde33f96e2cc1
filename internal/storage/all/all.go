// Package all links every storage backend into the binary. Import it for side
// effects only.
package all

import (
	_ "chemviz/internal/storage/mssql"
	_ "chemviz/internal/storage/postgres"
	_ "chemviz/internal/storage/sqlite"
)
