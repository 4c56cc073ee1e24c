// Package testutil provides fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Dataset identifiers used across package tests.
const (
	// HistoricalID is a plain CMIP6 identifier.
	HistoricalID = "CMIP6.CMIP.MOHC.UKESM1-0-LL.historical.r1i1p1f2.Amon.tas.gn.v20190406"

	// DecadalID is a DCPP identifier whose member encodes start year 1960.
	DecadalID = "CMIP6.DCPP.MOHC.HadGEM3-GC31-MM.dcppA-hindcast.s1960-r1i1p1f2.Amon.tas.gn.v20200417"
)

// ZarrStorePath returns a converted-store path for a CMIP6 identifier in the
// usual "<bucket>/<prefix facets>/<suffix facets>.zarr" shape.
func ZarrStorePath(bucket, prefix, suffix string) string {
	return bucket + "/" + prefix + "/" + suffix + ".zarr"
}

// WriteArchive creates dir under root and an empty file per name in it.
// It returns the full directory path.
func WriteArchive(tb testing.TB, root, dir string, names ...string) string {
	tb.Helper()
	full := filepath.Join(root, filepath.FromSlash(dir))
	if err := os.MkdirAll(full, 0o755); err != nil {
		tb.Fatalf("create archive dir: %v", err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(full, name), nil, 0o644); err != nil {
			tb.Fatalf("create archive file: %v", err)
		}
	}
	return full
}

// RemoveAll removes the path and any children. Errors are ignored.
// Use for defer cleanup in tests.
//
// Usage:
//
//	defer testutil.RemoveAll(tmpDir)
func RemoveAll(path string) { _ = os.RemoveAll(path) }
