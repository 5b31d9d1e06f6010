package fscache

import (
	"testing"

	"github.com/spf13/afero"
)

func TestDirInUse(t *testing.T) {
	memFs := afero.NewMemMapFs()
	first, err := New("/registry-claim-test", WithFs(memFs))
	if err != nil {
		t.Fatalf("Failed to create first cache: %v", err)
	}
	defer first.Close()

	// Same directory, even with a different configuration, is refused.
	_, err = New("/registry-claim-test", WithFs(memFs), WithFastHash())
	assertIs(t, err, ErrDirInUse, "second cache over a claimed directory")
}

func TestDirClaimComparesResolvedPaths(t *testing.T) {
	memFs := afero.NewMemMapFs()
	first, err := New("/registry-resolve-test", WithFs(memFs))
	if err != nil {
		t.Fatalf("Failed to create first cache: %v", err)
	}
	defer first.Close()

	// An unclean spelling of the same directory is still the same claim.
	_, err = New("/registry-resolve-test/../registry-resolve-test", WithFs(memFs))
	assertIs(t, err, ErrDirInUse, "unclean path to a claimed directory")
}

func TestCloseReleasesClaim(t *testing.T) {
	memFs := afero.NewMemMapFs()
	first, err := New("/registry-release-test", WithFs(memFs))
	if err != nil {
		t.Fatalf("Failed to create first cache: %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Failed to close first cache: %v", err)
	}

	second, err := New("/registry-release-test", WithFs(memFs))
	if err != nil {
		t.Fatalf("Expected the claim to be free after Close: %v", err)
	}
	second.Close()
}

func TestDistinctDirsCoexist(t *testing.T) {
	memFs := afero.NewMemMapFs()

	one, err := New("/registry-coexist-one-test", WithFs(memFs))
	if err != nil {
		t.Fatalf("Failed to create first cache: %v", err)
	}
	defer one.Close()

	two, err := New("/registry-coexist-two-test", WithFs(memFs))
	if err != nil {
		t.Fatalf("Failed to create second cache: %v", err)
	}
	defer two.Close()
}

// TestFailedNewLeavesNoClaim checks that a construction failure after
// the claim was taken gives the claim back.
func TestFailedNewLeavesNoClaim(t *testing.T) {
	memFs := afero.NewMemMapFs()

	// A read-only filesystem makes directory creation fail after the
	// registry claim succeeded.
	_, err := New("/registry-failed-test", WithFs(afero.NewReadOnlyFs(memFs)))
	if err == nil {
		t.Fatal("Expected New to fail on a read-only filesystem")
	}

	cache, err := New("/registry-failed-test", WithFs(memFs))
	if err != nil {
		t.Fatalf("Expected the claim to be free after failed New: %v", err)
	}
	cache.Close()
}
