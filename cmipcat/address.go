package cmipcat

import (
	"errors"
	"fmt"
	"strings"
)

// Layout constants
const (
	facetSep       = "."
	zarrToken      = "zarr"
	zarrExtension  = ".zarr"
	ncExtension    = ".nc"
	archiveNCGlob  = "*" + ncExtension
	defaultSplit   = 4
	defaultMember  = 5
	minLayoutSplit = 1
)

// CMIP6Facets are the facet names of a CMIP6 dataset identifier, in order.
var CMIP6Facets = []string{
	"mip_era",
	"activity_id",
	"institution_id",
	"source_id",
	"experiment_id",
	"member_id",
	"table_id",
	"variable_id",
	"grid_label",
	"version",
}

// -----------------------------------------------------------------------------
// Layout
// -----------------------------------------------------------------------------

// Layout translates dataset identifiers into archive paths, Zarr store paths
// and public URLs.
//
// Identifiers are interpreted positionally; facet values are never checked
// against a vocabulary. All methods are pure string transforms.
type Layout struct {
	// FacetNames names the identifier facets in order. Its length is the
	// project's facet count.
	FacetNames []string

	// SplitIndex is the number of leading facets forming the Zarr store
	// prefix. The remaining facets form the suffix.
	SplitIndex int

	// MemberIndex is the position of the member_id facet.
	MemberIndex int

	// ArchiveRoot is the directory under which NetCDF archives are stored,
	// one nested directory per facet.
	ArchiveRoot string

	// EndpointURL is prepended verbatim to Zarr store paths.
	EndpointURL string
}

// NewCMIP6Layout returns the reference CMIP6 layout: ten facets, a 4/6
// Zarr split and member_id at index 5.
func NewCMIP6Layout(archiveRoot, endpointURL string) Layout {
	return Layout{
		FacetNames:  CMIP6Facets,
		SplitIndex:  defaultSplit,
		MemberIndex: defaultMember,
		ArchiveRoot: archiveRoot,
		EndpointURL: endpointURL,
	}
}

// NFacets returns the number of facets in an identifier.
func (l Layout) NFacets() int { return len(l.FacetNames) }

// Validate reports configuration errors.
func (l Layout) Validate() error {
	var errs []error
	n := l.NFacets()
	if n == 0 {
		errs = append(errs, errors.New("layout: no facet names"))
	}
	if l.SplitIndex < minLayoutSplit || l.SplitIndex > n {
		errs = append(errs, fmt.Errorf("layout: split index %d out of range [%d, %d]", l.SplitIndex, minLayoutSplit, n))
	}
	if l.MemberIndex < 0 || l.MemberIndex >= n {
		errs = append(errs, fmt.Errorf("layout: member index %d out of range [0, %d)", l.MemberIndex, n))
	}
	for i, name := range l.FacetNames {
		if name == "" {
			errs = append(errs, fmt.Errorf("layout: facet %d has no name", i))
		}
	}
	return errors.Join(errs...)
}

// Header returns the catalog column names: the facet names followed by the
// derived columns.
func (l Layout) Header() []string {
	header := make([]string, 0, l.NFacets()+len(derivedColumns))
	header = append(header, l.FacetNames...)
	return append(header, derivedColumns...)
}

// Normalize extracts a dataset identifier from any path-like string that
// ends with one: a plain identifier, an archive directory, a NetCDF file
// path or a Zarr store path.
//
// Path separators become facet separators, a trailing NetCDF file name or
// "zarr" token is dropped, and the last NFacets tokens are kept. Returns
// ErrMalformedIdentifier when fewer tokens remain or any kept token is empty.
func (l Layout) Normalize(pathLike string) (DatasetID, error) {
	n := l.NFacets()
	trimmed := strings.TrimRight(pathLike, "/")
	if i := strings.LastIndex(trimmed, "/"); strings.HasSuffix(trimmed, ncExtension) && i >= 0 {
		trimmed = trimmed[:i]
	}

	tokens := splitFacets(strings.ReplaceAll(trimmed, "/", facetSep))
	if len(tokens) > 0 && tokens[len(tokens)-1] == zarrToken {
		tokens = tokens[:len(tokens)-1]
	}
	if n == 0 || len(tokens) < n {
		return "", fmt.Errorf("%w: %q has %d facets, want %d", ErrMalformedIdentifier, pathLike, len(tokens), n)
	}

	tokens = tokens[len(tokens)-n:]
	for i, tok := range tokens {
		if tok == "" {
			return "", fmt.Errorf("%w: %q has empty facet %d", ErrMalformedIdentifier, pathLike, i)
		}
	}
	return DatasetID(strings.Join(tokens, facetSep)), nil
}

// ArchivePath returns the archive directory of id: ArchiveRoot joined with
// one directory per facet.
func (l Layout) ArchivePath(id DatasetID) string {
	rel := strings.Join(id.Facets(), "/")
	if l.ArchiveRoot == "" {
		return rel
	}
	return strings.TrimSuffix(l.ArchiveRoot, "/") + "/" + rel
}

// ArchiveGlob returns the glob matching the NetCDF files of id.
func (l Layout) ArchiveGlob(id DatasetID) string {
	return l.ArchivePath(id) + "/" + archiveNCGlob
}

// ZarrPath returns the Zarr store path of id relative to the object-store
// endpoint: "<prefix facets>/<suffix facets>.zarr".
func (l Layout) ZarrPath(id DatasetID) string {
	prefix, suffix := splitAt(id.Facets(), l.SplitIndex)
	return prefix + "/" + suffix + zarrExtension
}

// ZarrURL returns EndpointURL followed by the Zarr store path of id.
// The endpoint is trusted configuration and is not escaped.
func (l Layout) ZarrURL(id DatasetID) string {
	return l.EndpointURL + l.ZarrPath(id)
}

// splitAt joins facets[:i] and facets[i:] with the facet separator.
func splitAt(facets []string, i int) (string, string) {
	i = max(0, min(i, len(facets)))
	return strings.Join(facets[:i], facetSep), strings.Join(facets[i:], facetSep)
}

func splitFacets(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, facetSep)
}
