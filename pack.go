// Package pack is a transactional, single-file block store: stable
// logical addresses backed by page-based physical storage, journaled
// commits with crash recovery, and a background vacuum pass that
// compacts sparsely-populated pages.
//
// The engine lives in internal/pagestore; this package re-exports its
// public surface so callers depend on github.com/blockpack/pack rather
// than reaching into an internal package.
package pack

import "github.com/blockpack/pack/internal/pagestore"

type (
	// Pack is an open store.
	Pack = pagestore.Pack
	// Mutator is a transaction workspace opened via Pack.Mutate.
	Mutator = pagestore.Mutator
	// Creator configures and creates a brand-new store file.
	Creator = pagestore.Creator
	// Opener opens an existing store file, recovering it if needed.
	Opener = pagestore.Opener
	// Address is a stable logical block address.
	Address = pagestore.Address
	// Position is a byte offset into the store file.
	Position = pagestore.Position
	// StaticEntry names a fixed block reserved at store-creation time.
	StaticEntry = pagestore.StaticEntry
	// PageInfo describes one page for a diagnostic dump.
	PageInfo = pagestore.PageInfo
	// VacuumResult reports what a Vacuum pass moved and reclaimed.
	VacuumResult = pagestore.VacuumResult
	// Manifest is the decoded shape of a Creator TOML manifest.
	Manifest = pagestore.Manifest
	// StoreError is the store's typed error, carrying a stable Kind.
	StoreError = pagestore.StoreError
)

// Sentinel errors, re-exported for errors.Is comparisons.
var (
	ErrFileNotFound       = pagestore.ErrFileNotFound
	ErrBadSignature       = pagestore.ErrBadSignature
	ErrHeaderCorrupt      = pagestore.ErrHeaderCorrupt
	ErrBlockCorrupt       = pagestore.ErrBlockCorrupt
	ErrFreedAddress       = pagestore.ErrFreedAddress
	ErrFreedStaticAddress = pagestore.ErrFreedStaticAddress
	ErrInvalidAddress     = pagestore.ErrInvalidAddress
	ErrShutdown           = pagestore.ErrShutdown
)

// DefaultPageSize is the page size a Creator uses when none is set.
const DefaultPageSize = pagestore.DefaultPageSize

// NewCreator returns a Creator with DefaultPageSize and no static blocks.
func NewCreator() *Creator { return pagestore.NewCreator() }

// NewOpener returns an Opener using the package default logger.
func NewOpener() *Opener { return pagestore.NewOpener() }

// Open is a convenience wrapper around NewOpener().Open(path).
func Open(path string) (*Pack, error) {
	return NewOpener().Open(path)
}

// Create is a convenience wrapper around NewCreator().Create(path).
func Create(path string) (*Pack, error) {
	return NewCreator().Create(path)
}
