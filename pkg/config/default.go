// Global index defaults.
package config

// Name of the index library.
const Name = "grovedb"

// DefaultPageSize is the page size used when the caller has no opinion.
const DefaultPageSize = 4096

// DefaultMaxPagesInBuffer is the bounded page cache's default capacity.
const DefaultMaxPagesInBuffer = 4096

// DefaultOrder is the default B+tree fan-out.
const DefaultOrder = 100
