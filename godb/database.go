package godb

import "path/filepath"

// OpenDatabase wires a Catalog, BufferPool, and LogFile together rooted at
// dir, the way every operation in this package expects its three
// collaborators to be constructed once and threaded through explicitly
// rather than reached for as a package-level singleton. catalogFile names
// the catalog's text file, relative to dir if not absolute.
func OpenDatabase(dir string, catalogFile string, bufferPoolCapacity int, cfg *Config) (*Catalog, *BufferPool, *LogFile, error) {
	bp, err := NewBufferPool(bufferPoolCapacity, cfg, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	if !filepath.IsAbs(catalogFile) {
		catalogFile = filepath.Join(dir, catalogFile)
	}
	cat := NewCatalog(catalogFile, bp, dir)
	if err := cat.parseCatalogFile(); err != nil {
		return nil, nil, nil, err
	}

	logFile, err := NewLogFile(filepath.Join(dir, "log.bin"), bp, cat)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := bp.Recover(logFile); err != nil {
		return nil, nil, nil, err
	}

	return cat, bp, logFile, nil
}
