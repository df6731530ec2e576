package memdx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneralStatsParser(t *testing.T) {
	var parser GeneralStatsParser
	ParseStatsEntries([]StatsEntry{
		{Key: "pid", Value: "123"},
		{Key: "uptime", Value: "3600"},
		{Key: "version", Value: "1.6.21"},
		{Key: "curr_items", Value: "10"},
		{Key: "total_items", Value: "25"},
		{Key: "bytes", Value: "4096"},
		{Key: "curr_connections", Value: "2"},
		{Key: "get_hits", Value: "7"},
		{Key: "get_misses", Value: "3"},
		{Key: "libevent", Value: "2.1.12-stable"},
	}, &parser)

	assert.Equal(t, uint32(123), parser.Pid)
	assert.True(t, parser.PidParsed)
	assert.Equal(t, uint64(3600), parser.Uptime)
	assert.True(t, parser.UptimeParsed)
	assert.Equal(t, "1.6.21", parser.Version)
	assert.True(t, parser.VersionParsed)
	assert.Equal(t, uint64(10), parser.CurrItems)
	assert.Equal(t, uint64(25), parser.TotalItems)
	assert.Equal(t, uint64(4096), parser.Bytes)
	assert.Equal(t, uint64(2), parser.CurrConnections)
	assert.Equal(t, uint64(7), parser.GetHits)
	assert.Equal(t, uint64(3), parser.GetMisses)
	assert.True(t, parser.GetMissesParsed)
	assert.Equal(t, "", parser.GroupName())
}

func TestGeneralStatsParserInvalidValues(t *testing.T) {
	var parser GeneralStatsParser
	ParseStatsEntries([]StatsEntry{
		{Key: "pid", Value: "not-a-number"},
		{Key: "curr_items", Value: "-1"},
	}, &parser)

	assert.False(t, parser.PidParsed)
	assert.False(t, parser.CurrItemsParsed)
	assert.False(t, parser.VersionParsed)
}
