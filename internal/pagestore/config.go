package pagestore

import "github.com/pelletier/go-toml"

// ───────────────────────────────────────────────────────────────────────────
// Creator manifest
// ───────────────────────────────────────────────────────────────────────────
//
// A store can be created from a TOML manifest instead of chained Creator
// calls, useful for a CLI-driven setup (cmd/packctl create --manifest).

// Manifest is the decoded shape of a Creator TOML manifest.
type Manifest struct {
	PageSize  int32            `toml:"page_size"`
	Checksums bool             `toml:"checksums"`
	Static    []ManifestStatic `toml:"static"`
}

// ManifestStatic is one [[static]] table entry.
type ManifestStatic struct {
	URI       string `toml:"uri"`
	BlockSize int32  `toml:"block_size"`
}

// LoadManifest decodes a TOML manifest file and applies it to the
// Creator: it overrides the page size (when the manifest sets one) and
// the checksums setting, and appends the manifest's static blocks to any
// already added.
func (c *Creator) LoadManifest(path string) (*Creator, error) {
	var m Manifest
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, wrapIO("LoadManifest", KindIoRead, err)
	}
	if err := tree.Unmarshal(&m); err != nil {
		return nil, wrapIO("LoadManifest", KindHeaderCorrupt, err)
	}

	if m.PageSize != 0 {
		c.pageSize = m.PageSize
	}
	c.checksums = m.Checksums
	for _, s := range m.Static {
		c.AddStaticBlock(s.URI, s.BlockSize)
	}
	return c, nil
}
