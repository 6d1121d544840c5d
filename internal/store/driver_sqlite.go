package store

import (
	_ "modernc.org/sqlite" // Pure-Go SQLite driver, registered as "sqlite".
)
