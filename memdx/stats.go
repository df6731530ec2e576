package memdx

import (
	"strconv"
)

// StatsEntry is a single key/value pair of a stats response, in the order
// the server sent it.
type StatsEntry struct {
	Key   string
	Value string
}

// These parsers are used to parse stats entries from the memcached server.  They
// keep track of which fields have been parsed and can be used to validate the
// stats entries returned by the server.

type GeneralStatsParser struct {
	Pid             uint32
	Uptime          uint64
	Version         string
	CurrItems       uint64
	TotalItems      uint64
	Bytes           uint64
	CurrConnections uint64
	GetHits         uint64
	GetMisses       uint64

	PidParsed             bool
	UptimeParsed          bool
	VersionParsed         bool
	CurrItemsParsed       bool
	TotalItemsParsed      bool
	BytesParsed           bool
	CurrConnectionsParsed bool
	GetHitsParsed         bool
	GetMissesParsed       bool
}

// GroupName is empty because the general statistics are the default group.
func (p *GeneralStatsParser) GroupName() string {
	return ""
}

func (p *GeneralStatsParser) HandleEntry(key string, value string) {
	switch key {
	case "pid":
		pid, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return
		}

		p.Pid = uint32(pid)
		p.PidParsed = true
		return
	case "version":
		p.Version = value
		p.VersionParsed = true
		return
	}

	val, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return
	}

	switch key {
	case "uptime":
		p.Uptime = val
		p.UptimeParsed = true
	case "curr_items":
		p.CurrItems = val
		p.CurrItemsParsed = true
	case "total_items":
		p.TotalItems = val
		p.TotalItemsParsed = true
	case "bytes":
		p.Bytes = val
		p.BytesParsed = true
	case "curr_connections":
		p.CurrConnections = val
		p.CurrConnectionsParsed = true
	case "get_hits":
		p.GetHits = val
		p.GetHitsParsed = true
	case "get_misses":
		p.GetMisses = val
		p.GetMissesParsed = true
	}
}

// StatsParser consumes the entries of one stats group.
type StatsParser interface {
	GroupName() string
	HandleEntry(key string, value string)
}

var _ StatsParser = (*GeneralStatsParser)(nil)

// ParseStatsEntries feeds every entry to the parser, in order.
func ParseStatsEntries(entries []StatsEntry, parser StatsParser) {
	for _, entry := range entries {
		parser.HandleEntry(entry.Key, entry.Value)
	}
}
