package cmipcat

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	dcppPrefix    = "s"
	dcppSep       = "-"
	rangeSep      = "-"
	rangeFieldSep = "_"
	firstMonth    = "01"
	lastMonth     = "12"
	yearDigits    = 4
	monthDigits   = 6
)

// -----------------------------------------------------------------------------
// Decadal start year
// -----------------------------------------------------------------------------

// DecadalStartYear returns the forecast initialization year encoded in the
// member_id facet of a DCPP identifier ("s1960-r1i1p1f1" -> 1960).
//
// Reports false when the member is not of the form s<year>-<...>.
func (l Layout) DecadalStartYear(id DatasetID) (int, bool) {
	member := id.Facet(l.MemberIndex)
	if !strings.HasPrefix(member, dcppPrefix) || !strings.Contains(member, dcppSep) {
		return 0, false
	}
	head, _, _ := strings.Cut(member, dcppSep)
	year, err := strconv.Atoi(strings.TrimPrefix(head, dcppPrefix))
	if err != nil {
		return 0, false
	}
	return year, true
}

// -----------------------------------------------------------------------------
// Temporal range
// -----------------------------------------------------------------------------

// TemporalRangeReason enumerates why no time range could be derived.
type TemporalRangeReason int

// Temporal range failure reasons.
const (
	// ReasonListFailed means the archive directory could not be listed.
	ReasonListFailed TemporalRangeReason = iota + 1

	// ReasonNoFiles means the directory holds no visible NetCDF files.
	ReasonNoFiles

	// ReasonBadFilename means a NetCDF file name carries no parsable
	// <start>-<end> token.
	ReasonBadFilename
)

func (r TemporalRangeReason) String() string {
	switch r {
	case ReasonListFailed:
		return "list-failed"
	case ReasonNoFiles:
		return "no-files"
	case ReasonBadFilename:
		return "bad-filename"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// TemporalRangeError describes a failed time range derivation.
// It matches ErrTemporalRangeUnavailable with errors.Is.
type TemporalRangeError struct {
	DatasetID DatasetID
	Dir       string
	Reason    TemporalRangeReason
	Err       error
}

func (e *TemporalRangeError) Error() string {
	msg := fmt.Sprintf("temporal range unavailable for %s (%s): %s", e.DatasetID, e.Dir, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *TemporalRangeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTemporalRangeUnavailable}
	}
	return []error{ErrTemporalRangeUnavailable, e.Err}
}

// TemporalRange derives the "YYYYMM-YYYYMM" time range of id from the names
// of the NetCDF files in its archive directory.
//
// File names are expected to end in _<start>-<end>.nc. The range start is
// the earliest start padded with "01" to six digits; the range end is the
// year of that same earliest start followed by "12". The end is not taken
// from the latest end date.
//
// On failure the result is "" and the error is a *TemporalRangeError.
func (l Layout) TemporalRange(ctx context.Context, id DatasetID, lister Lister) (string, error) {
	dir := l.ArchivePath(id)
	fail := func(reason TemporalRangeReason, err error) (string, error) {
		return "", &TemporalRangeError{DatasetID: id, Dir: dir, Reason: reason, Err: err}
	}

	names, err := lister.ListDir(ctx, dir)
	if err != nil {
		return fail(ReasonListFailed, err)
	}

	earliest, found := 0, false
	for _, name := range names {
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ncExtension) {
			continue
		}
		start, err := parseRangeStart(name)
		if err != nil {
			return fail(ReasonBadFilename, err)
		}
		if !found || start < earliest {
			earliest, found = start, true
		}
	}
	if !found {
		return fail(ReasonNoFiles, nil)
	}

	digits := fmt.Sprintf("%0*d", yearDigits, earliest)
	start := (digits + firstMonth)[:monthDigits]
	end := digits[:yearDigits] + lastMonth
	return start + rangeSep + end, nil
}

// parseRangeStart returns the start date of a <...>_<start>-<end>.nc name.
func parseRangeStart(name string) (int, error) {
	stem := strings.TrimSuffix(name, ncExtension)
	token := stem[strings.LastIndex(stem, rangeFieldSep)+1:]
	startText, _, ok := strings.Cut(token, rangeSep)
	if !ok {
		return 0, fmt.Errorf("%q: no %q in date token %q", name, rangeSep, token)
	}
	start, err := strconv.Atoi(startText)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", name, err)
	}
	return start, nil
}

// -----------------------------------------------------------------------------
// Listers
// -----------------------------------------------------------------------------

// osLister lists directories on the local filesystem.
type osLister struct{}

// NewOSLister returns a Lister backed by os.ReadDir.
func NewOSLister() Lister {
	return osLister{}
}

func (osLister) ListDir(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// storeLister lists the direct children of a prefix in a Store.
type storeLister struct {
	store Store
}

// NewStoreLister returns a Lister over any Store. Directories are key
// prefixes; only direct children of dir are returned.
//
// Object stores have no empty directories, so a prefix without keys is
// reported as ErrNotFound.
func NewStoreLister(store Store) Lister {
	return &storeLister{store: store}
}

func (s *storeLister) ListDir(ctx context.Context, dir string) ([]string, error) {
	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(keys))
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok || rest == "" {
			continue
		}
		child, _, _ := strings.Cut(rest, "/")
		if !seen[child] {
			seen[child] = true
			names = append(names, child)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("list %s: %w", dir, ErrNotFound)
	}
	return names, nil
}

var (
	_ Lister = osLister{}
	_ Lister = (*storeLister)(nil)
	_ error  = (*TemporalRangeError)(nil)
)
