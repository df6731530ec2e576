package memdx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testDispatcher encodes commands and records them instead of sending them.
type testDispatcher struct {
	cmds   []*Command
	frames [][]byte
	err    error
}

func (d *testDispatcher) Dispatch(cmd *Command) error {
	if d.err != nil {
		return d.err
	}

	frame, err := cmd.Encode()
	if err != nil {
		return err
	}

	d.cmds = append(d.cmds, cmd)
	d.frames = append(d.frames, frame)
	return nil
}

func (d *testDispatcher) last(t *testing.T) (*Command, *Packet) {
	require.NotEmpty(t, d.cmds)

	frame := d.frames[len(d.frames)-1]
	pak := &Packet{}
	n, err := DecodePacket(frame, pak)
	require.NoError(t, err)
	require.Equal(t, len(frame), n)

	return d.cmds[len(d.cmds)-1], pak
}

// makeResponseFrame encodes paks back to back as response packets.
func makeResponseFrame(t *testing.T, paks ...*Packet) []byte {
	var buf []byte
	for _, pak := range paks {
		pak.Magic = MagicRes

		var err error
		buf, err = AppendPacket(buf, pak)
		require.NoError(t, err)
	}

	return buf
}

func makeStatsFrame(t *testing.T, entries ...StatsEntry) []byte {
	paks := make([]*Packet, 0, len(entries)+1)
	for _, entry := range entries {
		paks = append(paks, &Packet{
			OpCode: OpCodeStat,
			Key:    []byte(entry.Key),
			Value:  []byte(entry.Value),
		})
	}
	paks = append(paks, &Packet{OpCode: OpCodeStat})

	return makeResponseFrame(t, paks...)
}
