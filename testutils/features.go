package testutils

import (
	"testing"

	"golang.org/x/exp/slices"
)

type TestFeature string

const (
	// TestFeatureFlush is disabled for servers started with flush disabled (-F).
	TestFeatureFlush TestFeature = "flush"

	// TestFeatureStatsGroups covers `stats <group>` requests such as `stats items`.
	TestFeatureStatsGroups TestFeature = "stats-groups"
)

var AllTestFeatures = []TestFeature{
	TestFeatureFlush,
	TestFeatureStatsGroups,
}

func SupportsFeature(feat TestFeature) bool {
	return slices.Contains(TestOpts.SupportedFeatures, feat)
}

func SkipIfUnsupportedFeature(t *testing.T, feat TestFeature) {
	if !SupportsFeature(feat) {
		t.Skipf("skipping unsupported feature (%s)", feat)
	}
}
