package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/filecache"
	"github.com/deskhand/deskhand/pkg/pathguard"
)

func TestParseMode(t *testing.T) {
	for _, name := range []string{"wcgw", "architect", "code_writer"} {
		mode, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, Mode(name), mode)
	}

	_, err := ParseMode("yolo")
	require.Error(t, err)
	assert.Equal(t, fault.ConfigError, fault.KindOf(err))
}

func TestThreadCheck(t *testing.T) {
	s := New("t-1")
	assert.NoError(t, s.CheckThread("t-1"))

	err := s.CheckThread("t-2")
	require.Error(t, err)
	assert.Equal(t, fault.ThreadIdMismatch, fault.KindOf(err))
}

func TestCodeWriterRequiresConfig(t *testing.T) {
	s := New("t")
	err := s.SetMode(ModeCodeWriter, nil)
	require.Error(t, err)
	assert.Equal(t, fault.ConfigError, fault.KindOf(err))

	require.NoError(t, s.SetMode(ModeCodeWriter, &CodeWriterConfig{
		AllowedGlobs:    pathguard.AllowAll(),
		AllowedCommands: pathguard.AllowAll(),
	}))
	assert.Equal(t, ModeCodeWriter, s.Mode)
}

func TestArchitectPolicy(t *testing.T) {
	s := New("t")
	s.WorkspaceRoot = "/ws"
	require.NoError(t, s.SetMode(ModeArchitect, nil))

	err := s.CheckWrite("/ws/file.go")
	require.Error(t, err)
	assert.Equal(t, fault.ModeForbidden, fault.KindOf(err))

	assert.NoError(t, s.CheckCommand("ls -la"))
	assert.NoError(t, s.CheckCommand("grep -r TODO ."))

	err = s.CheckCommand("rm -rf /")
	require.Error(t, err)
	assert.Equal(t, fault.CommandNotAllowed, fault.KindOf(err))

	assert.True(t, s.Restricted())
}

func TestCodeWriterPolicy(t *testing.T) {
	s := New("t")
	s.WorkspaceRoot = "/ws"
	require.NoError(t, s.SetMode(ModeCodeWriter, &CodeWriterConfig{
		AllowedGlobs:    pathguard.AllowOnly("src/**/*.go"),
		AllowedCommands: pathguard.AllowOnly("go", "git"),
	}))

	assert.NoError(t, s.CheckWrite("/ws/src/pkg/a.go"))
	err := s.CheckWrite("/ws/README.md")
	require.Error(t, err)
	assert.Equal(t, fault.ModeForbidden, fault.KindOf(err))

	assert.NoError(t, s.CheckCommand("go test ./..."))
	err = s.CheckCommand("make all")
	require.Error(t, err)
	assert.Equal(t, fault.CommandNotAllowed, fault.KindOf(err))
}

func TestWcgwUnrestricted(t *testing.T) {
	s := New("t")
	s.WorkspaceRoot = "/ws"

	assert.NoError(t, s.CheckWrite("/ws/anything"))
	assert.NoError(t, s.CheckCommand("rm -rf build/"))
	assert.False(t, s.Restricted())
}

func TestBgIDsUnique(t *testing.T) {
	s := New("t")
	a, b := s.NextBgID(), s.NextBgID()
	assert.NotEqual(t, a, b)
	assert.Equal(t, "bg_1", a)
	assert.Equal(t, "bg_2", b)
}

func TestRecordReadAndWrite(t *testing.T) {
	s := New("t")

	s.RecordRead("/ws/f.txt", "hash1", []filecache.Range{{Start: 1, End: 3}}, 10)
	entry, ok := s.Whitelist["/ws/f.txt"]
	require.True(t, ok)
	assert.Equal(t, "hash1", entry.Hash)

	// Same hash accumulates ranges.
	s.RecordRead("/ws/f.txt", "hash1", []filecache.Range{{Start: 5, End: 7}}, 10)
	assert.Len(t, s.Whitelist["/ws/f.txt"].Ranges, 2)

	// New hash resets the entry.
	s.RecordRead("/ws/f.txt", "hash2", []filecache.Range{{Start: 1, End: 10}}, 10)
	assert.Len(t, s.Whitelist["/ws/f.txt"].Ranges, 1)

	s.RecordWrite("/ws/f.txt", "hash3", 4)
	entry = s.Whitelist["/ws/f.txt"]
	assert.Equal(t, "hash3", entry.Hash)
	assert.Equal(t, []filecache.Range{{Start: 1, End: 4}}, entry.Ranges)
	assert.Equal(t, 4, entry.TotalLines)
}
