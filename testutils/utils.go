package testutils

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/couchbase/gocbmcx/contrib/leakcheck"
	"github.com/couchbaselabs/gocbconnstr/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const defaultMemdPort = 11211

var TestOpts TestOptions

type TestOptions struct {
	MemdAddrs         []string
	LongTest          bool
	SupportedFeatures []TestFeature
	RunName           string
	OriginalConnStr   string
}

func addSupportedFeature(feat TestFeature) {
	if !slices.Contains(TestOpts.SupportedFeatures, feat) {
		TestOpts.SupportedFeatures = append(TestOpts.SupportedFeatures, feat)
	}
}
func removeSupportedFeature(feat TestFeature) {
	featIdx := slices.Index(TestOpts.SupportedFeatures, feat)
	if featIdx >= 0 {
		TestOpts.SupportedFeatures = slices.Delete(TestOpts.SupportedFeatures, featIdx, featIdx+1)
	}
}

func envFlagString(envName, name, value, usage string) *string {
	envValue := os.Getenv(envName)
	if envValue != "" {
		value = envValue
	}
	return flag.String(name, value, usage)
}

var connStr = envFlagString("GOCBMCX_CONNSTR", "connstr", "",
	"Connection string of a real memcached server to run tests against")
var featsStr = envFlagString("GOCBMCX_FEAT", "features", "",
	"A comma-delimited list of features to test")

func SetupTests(m *testing.M) {
	flag.Parse()

	if *connStr != "" && !testing.Short() {
		TestOpts.LongTest = true
		err := parseConnStr(*connStr)
		if err != nil {
			panic("failed to parse connection string")
		}

		TestOpts.OriginalConnStr = *connStr
	}

	// default supported features
	TestOpts.SupportedFeatures = []TestFeature{
		TestFeatureFlush,
		TestFeatureStatsGroups,
	}

	if featsStr != nil && *featsStr != "" {
		featStrs := strings.Split(*featsStr, ",")
		for _, featStr := range featStrs {
			featStr = strings.TrimSpace(featStr)
			feat := TestFeature(strings.TrimLeft(featStr, "+-*"))

			if featStr == "*" {
				for _, feat := range AllTestFeatures {
					addSupportedFeature(feat)
				}
			} else if strings.HasPrefix(featStr, "-") {
				removeSupportedFeature(feat)
			} else {
				addSupportedFeature(feat)
			}
		}
	}

	TestOpts.RunName = strings.ReplaceAll(uuid.NewString(), "-", "")[0:8]

	leakcheck.EnableAll()

	result := m.Run()

	if !leakcheck.ReportAll() {
		result = 1
	}

	os.Exit(result)
}

func parseConnStr(connStr string) error {
	spec, err := gocbconnstr.Parse(strings.TrimPrefix(connStr, "memcached://"))
	if err != nil {
		return err
	}

	var memdHosts []string
	for _, specHost := range spec.Addresses {
		port := specHost.Port
		if port <= 0 {
			port = defaultMemdPort
		}
		memdHosts = append(memdHosts, fmt.Sprintf("%s:%d", specHost.Host, port))
	}

	if len(memdHosts) == 0 {
		return fmt.Errorf("no hosts in connection string %q", connStr)
	}

	TestOpts.MemdAddrs = memdHosts
	return nil
}

func SkipIfShortTest(t *testing.T) {
	if !TestOpts.LongTest {
		t.Skipf("skipping long test")
	}
}

func MakeTestLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	return logger
}

// MakeTestKey returns a key unique to this test run, so that runs against a
// shared server never see each other's items.
func MakeTestKey(t *testing.T, suffix string) []byte {
	return []byte(fmt.Sprintf("gocbmcx-%s-%s-%s", TestOpts.RunName, t.Name(), suffix))
}
