package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner captures invocations instead of forking.
type recordingRunner struct {
	calls []runnerCall
	err   error
}

type runnerCall struct {
	argv []string
	env  []string
}

func (r *recordingRunner) Run(_ context.Context, argv []string, extraEnv []string) error {
	r.calls = append(r.calls, runnerCall{argv: argv, env: extraEnv})
	return r.err
}

func applyOne(t *testing.T, f *Filter, msg *fakeMessage, runner Runner) (*View, *MessageResult) {
	t.Helper()
	eng, err := New([]*Filter{f}, Options{Runner: runner})
	require.NoError(t, err)
	v := NewView(msg, nil)
	res := &MessageResult{ID: msg.ID(), Path: msg.Path()}
	eng.execute(context.Background(), f, v, res)
	return v, res
}

func TestExecuteRemovesBeforeAdding(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	msg.tags = []string{"inbox", "unread"}
	f := &Filter{
		Name:  "flip",
		Rules: []Rule{{"@tags": {"inbox"}}},
		Op: Operation{
			Rm:  RemoveSpec{Tags: StringList{"unread", "keep"}},
			Add: StringList{"keep", "archived"},
		},
	}
	require.NoError(t, Compile([]*Filter{f}))

	v, res := applyOne(t, f, msg, &recordingRunner{})
	assert.Empty(t, res.Errors)
	// "keep" is in both rm and add; removal runs first, so add wins.
	assert.Equal(t, []string{"archived", "inbox", "keep"}, v.Tags().List())
}

func TestExecuteIsIdempotent(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	msg.tags = []string{"inbox"}
	f := &Filter{
		Name:  "twice",
		Rules: []Rule{{"@tags": {"inbox"}}},
		Op:    Operation{Rm: RemoveSpec{Tags: StringList{"gone"}}, Add: StringList{"inbox", "seen"}},
	}
	require.NoError(t, Compile([]*Filter{f}))

	v, _ := applyOne(t, f, msg, &recordingRunner{})
	first := v.Tags().List()
	eng, err := New([]*Filter{f}, Options{Runner: &recordingRunner{}})
	require.NoError(t, err)
	eng.execute(context.Background(), f, v, &MessageResult{})
	assert.Equal(t, first, v.Tags().List())
}

func TestExecuteRmAll(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	msg.tags = []string{"inbox", "unread", "flagged"}
	f := &Filter{
		Name:  "wipe",
		Rules: []Rule{{"@tags": {"inbox"}}},
		Op:    Operation{Rm: RemoveSpec{All: true}, Add: StringList{"archived"}},
	}
	require.NoError(t, Compile([]*Filter{f}))

	v, _ := applyOne(t, f, msg, &recordingRunner{})
	assert.Equal(t, []string{"archived"}, v.Tags().List())
}

func TestExecuteRunEnvironment(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	runner := &recordingRunner{}
	f := &Filter{
		Name:  "notify",
		Rules: []Rule{{"@tags": {"new"}}},
		Op:    Operation{Run: []string{"notify-send", "new mail"}},
	}
	require.NoError(t, Compile([]*Filter{f}))

	_, res := applyOne(t, f, msg, runner)
	assert.Empty(t, res.Errors)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"notify-send", "new mail"}, runner.calls[0].argv)
	assert.Contains(t, runner.calls[0].env, EnvFilterName+"=notify")
	assert.Contains(t, runner.calls[0].env, EnvFileName+"="+msg.Path())
	assert.Contains(t, runner.calls[0].env, EnvMessageID+"=m1")
}

func TestExecuteRunFailureKeepsTagMutations(t *testing.T) {
	msg := newFakeMessage("m1", nil)
	msg.tags = []string{"new"}
	runner := &recordingRunner{err: fmt.Errorf("exit status 1")}
	f := &Filter{
		Name:  "hook",
		Rules: []Rule{{"@tags": {"new"}}},
		Op:    Operation{Add: StringList{"hooked"}, Run: []string{"false"}},
	}
	require.NoError(t, Compile([]*Filter{f}))

	v, res := applyOne(t, f, msg, runner)
	require.Len(t, res.Errors, 1)
	var runErr *RunError
	require.ErrorAs(t, res.Errors[0], &runErr)
	assert.Equal(t, "hook", runErr.Filter)
	assert.True(t, v.Tags().Has("hooked"), "command failure must not roll back tags")
}

func TestExecuteDel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m1.eml")
	require.NoError(t, os.WriteFile(path, []byte("Subject: bye\r\n\r\n"), 0644))

	msg := newFakeMessage("m1", nil)
	msg.path = path
	f := &Filter{
		Name:  "purge",
		Rules: []Rule{{"@tags": {"spam"}}},
		Op:    Operation{Del: true},
	}
	require.NoError(t, Compile([]*Filter{f}))

	_, res := applyOne(t, f, msg, &recordingRunner{})
	assert.True(t, res.Deleted)
	assert.Empty(t, res.Errors)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Deleting an already removed file is not an error.
	_, res = applyOne(t, f, msg, &recordingRunner{})
	assert.True(t, res.Deleted)
	assert.Empty(t, res.Errors)
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	ctx := context.Background()
	var r ExecRunner

	assert.NoError(t, r.Run(ctx, []string{"true"}, nil))
	assert.Error(t, r.Run(ctx, []string{"sh", "-c", "exit 3"}, nil))
	assert.Error(t, r.Run(ctx, []string{"/nonexistent/filtra-test-binary"}, nil))
}
