package audio

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pactlList = `Sink Input #42
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #43
	Volume: front-left: 32768 / 50% / -18.06 dB
	Properties:
		application.name = "emotibot"
Sink Input #bogus
	Volume: 10%
`

type fakePactl struct {
	mu   sync.Mutex
	list string
	sets []string
}

func (f *fakePactl) run(_ context.Context, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if args[0] == "list" {
		return []byte(f.list), nil
	}
	f.sets = append(f.sets, strings.Join(args[1:], " "))
	return nil, nil
}

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(pactlList)
	assert.Equal(t, []sinkInput{
		{ID: 42, Volume: 100, AppName: "Firefox"},
		{ID: 43, Volume: 50, AppName: "emotibot"},
	}, got)

	assert.Empty(t, parseSinkInputs(""))
}

func TestDucker_DuckAndRestore(t *testing.T) {
	ctx := context.Background()
	f := &fakePactl{list: pactlList}
	d := NewDucker([]string{"emotibot"}, 0.3, 10, 0)
	d.run = f.run

	require.NoError(t, d.Duck(ctx))
	assert.Equal(t, []string{"42 30%"}, f.sets)

	// A second duck is a no-op.
	require.NoError(t, d.Duck(ctx))
	assert.Len(t, f.sets, 1)

	f.list = strings.Replace(pactlList, "100%", "30%", 1)
	require.NoError(t, d.Unduck(ctx))
	assert.Equal(t, []string{"42 30%", "42 100%"}, f.sets)

	require.NoError(t, d.Unduck(ctx))
	assert.Len(t, f.sets, 2)
}

func TestDucker_Floor(t *testing.T) {
	f := &fakePactl{list: pactlList}
	d := NewDucker(nil, 0, 25, 0)
	d.run = f.run

	require.NoError(t, d.Duck(context.Background()))
	assert.ElementsMatch(t, []string{"42 25%", "43 25%"}, f.sets)
}
