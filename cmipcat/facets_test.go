package cmipcat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/cmipcat/internal/testutil"
)

// -----------------------------------------------------------------------------
// Decadal start year
// -----------------------------------------------------------------------------

func TestLayout_DecadalStartYear(t *testing.T) {
	layout := testLayout()

	tests := []struct {
		member   string
		wantYear int
		wantOK   bool
	}{
		{"s1960-r1i1p1f1", 1960, true},
		{"s2019-r10i1p1f2", 2019, true},
		{"r1i1p1f1", 0, false},
		{"s1960r1i1p1f1", 0, false},
		{"sfoo-r1i1p1f1", 0, false},
		{"x1960-r1i1p1f1", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.member, func(t *testing.T) {
			id := DatasetID("CMIP6.DCPP.MOHC.HadGEM3-GC31-MM.dcppA-hindcast." + tt.member + ".Amon.tas.gn.v20200417")
			year, ok := layout.DecadalStartYear(id)
			if ok != tt.wantOK || year != tt.wantYear {
				t.Errorf("DecadalStartYear(%s) = %d, %v; want %d, %v", tt.member, year, ok, tt.wantYear, tt.wantOK)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Temporal range
// -----------------------------------------------------------------------------

func staticLister(names ...string) Lister {
	return ListerFunc(func(context.Context, string) ([]string, error) {
		return names, nil
	})
}

func TestLayout_TemporalRange(t *testing.T) {
	layout := testLayout()
	id := DatasetID(testutil.HistoricalID)

	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{
			name:  "single file",
			files: []string{"foo_200001-200512.nc"},
			want:  "200001-200012",
		},
		{
			name: "earliest start wins, end ignores later files",
			files: []string{
				"tas_Amon_UKESM1-0-LL_historical_r1i1p1f2_gn_195001-201412.nc",
				"tas_Amon_UKESM1-0-LL_historical_r1i1p1f2_gn_185001-194912.nc",
			},
			want: "185001-185012",
		},
		{
			name:  "yearly tokens",
			files: []string{"sftlf_fx_2015-2100.nc"},
			want:  "201501-201512",
		},
		{
			name:  "daily tokens keep the first six digits",
			files: []string{"tas_day_19500101-19591231.nc"},
			want:  "195001-195012",
		},
		{
			name:  "hidden and non-NetCDF files are skipped",
			files: []string{".tas_190001-190012.nc", "README", "tas_196001-196912.nc.md5", "tas_197001-197912.nc"},
			want:  "197001-197012",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := layout.TemporalRange(t.Context(), id, staticLister(tt.files...))
			if err != nil {
				t.Fatalf("TemporalRange failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("TemporalRange = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLayout_TemporalRange_Failures(t *testing.T) {
	layout := testLayout()
	id := DatasetID(testutil.HistoricalID)
	listErr := errors.New("permission denied")

	tests := []struct {
		name   string
		lister Lister
		reason TemporalRangeReason
	}{
		{
			name: "list error",
			lister: ListerFunc(func(context.Context, string) ([]string, error) {
				return nil, listErr
			}),
			reason: ReasonListFailed,
		},
		{
			name:   "empty directory",
			lister: staticLister(),
			reason: ReasonNoFiles,
		},
		{
			name:   "only hidden files",
			lister: staticLister(".tas_190001-190012.nc"),
			reason: ReasonNoFiles,
		},
		{
			name:   "no date token",
			lister: staticLister("tas_fx.nc"),
			reason: ReasonBadFilename,
		},
		{
			name:   "non-numeric start",
			lister: staticLister("tas_abc-200012.nc"),
			reason: ReasonBadFilename,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := layout.TemporalRange(t.Context(), id, tt.lister)
			if got != "" {
				t.Errorf("expected empty range, got %q", got)
			}
			if !errors.Is(err, ErrTemporalRangeUnavailable) {
				t.Fatalf("expected ErrTemporalRangeUnavailable, got %v", err)
			}
			var rangeErr *TemporalRangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("expected *TemporalRangeError, got %T", err)
			}
			if rangeErr.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", rangeErr.Reason, tt.reason)
			}
			if rangeErr.Dir != layout.ArchivePath(id) {
				t.Errorf("dir = %q, want %q", rangeErr.Dir, layout.ArchivePath(id))
			}
		})
	}
}

func TestLayout_TemporalRange_WrapsListError(t *testing.T) {
	layout := testLayout()
	listErr := errors.New("permission denied")
	lister := ListerFunc(func(context.Context, string) ([]string, error) { return nil, listErr })

	_, err := layout.TemporalRange(t.Context(), testutil.HistoricalID, lister)
	if !errors.Is(err, listErr) {
		t.Errorf("expected list error in chain, got %v", err)
	}
}

func TestLayout_TemporalRange_ListsArchiveDir(t *testing.T) {
	layout := testLayout()
	id := DatasetID(testutil.DecadalID)

	var listed string
	lister := ListerFunc(func(_ context.Context, dir string) ([]string, error) {
		listed = dir
		return []string{"tas_196011-197012.nc"}, nil
	})
	if _, err := layout.TemporalRange(t.Context(), id, lister); err != nil {
		t.Fatal(err)
	}
	if listed != layout.ArchivePath(id) {
		t.Errorf("listed %q, want %q", listed, layout.ArchivePath(id))
	}
}

// -----------------------------------------------------------------------------
// Listers
// -----------------------------------------------------------------------------

func TestOSLister(t *testing.T) {
	root := t.TempDir()
	layout := NewCMIP6Layout(root, testEndpoint)
	id := DatasetID(testutil.HistoricalID)
	testutil.WriteArchive(t, root, strings.ReplaceAll(testutil.HistoricalID, ".", "/"),
		"tas_Amon_UKESM1-0-LL_historical_r1i1p1f2_gn_185001-194912.nc",
		"tas_Amon_UKESM1-0-LL_historical_r1i1p1f2_gn_195001-201412.nc",
	)

	got, err := layout.TemporalRange(t.Context(), id, NewOSLister())
	if err != nil {
		t.Fatalf("TemporalRange failed: %v", err)
	}
	if got != "185001-185012" {
		t.Errorf("TemporalRange = %q, want 185001-185012", got)
	}
}

func TestOSLister_MissingDir(t *testing.T) {
	_, err := NewOSLister().ListDir(t.Context(), filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestStoreLister(t *testing.T) {
	ctx := t.Context()
	store := NewMemory()
	for _, key := range []string{
		"archive/ds/a_185001-185912.nc",
		"archive/ds/b_186001-186912.nc",
		"archive/ds/sub/c.nc",
		"archive/dsx/d.nc",
	} {
		if err := store.Put(ctx, key, strings.NewReader("")); err != nil {
			t.Fatal(err)
		}
	}

	names, err := NewStoreLister(store).ListDir(ctx, "/archive/ds/")
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	want := []string{"a_185001-185912.nc", "b_186001-186912.nc", "sub"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("ListDir = %v, want %v", names, want)
	}

	_, err = NewStoreLister(store).ListDir(ctx, "archive/none")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty prefix, got %v", err)
	}
}
