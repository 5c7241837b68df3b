package authority

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/mocklock/pkg/api"
)

func writeRulesFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

const usersDoc = `{
  "rules": [
    {
      "id": "users",
      "enabled": true,
      "request": {"url": "https://api.x/users", "method": "POST"},
      "response": {
        "status": 201,
        "statusText": "Created",
        "headers": {"Content-Type": "application/json", "X-Z": "last"},
        "body": "{\"id\":1}"
      }
    }
  ]
}`

func TestFileSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	writeRulesFile(t, path, usersDoc)

	store := NewMemoryStore(nil)
	require.NoError(t, NewFileSource(path, store).Load())

	d, err := store.Resolve(context.Background(), "https://api.x/users", "POST")
	require.NoError(t, err)
	require.True(t, d.ShouldMock)
	assert.Equal(t, api.Headers{
		{Name: "Content-Type", Value: "application/json"},
		{Name: "X-Z", Value: "last"},
	}, d.Response.Headers, "document order of headers is kept")

	enabled, err := store.Enabled(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled, "absent enabled flag means on")
}

func TestFileSource_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	store := NewMemoryStore(nil)

	err := NewFileSource(filepath.Join(dir, "missing.json"), store).Load()
	require.ErrorIs(t, err, ErrLoadRules)

	bad := filepath.Join(dir, "bad.json")
	writeRulesFile(t, bad, `{"rules": [`)
	require.ErrorIs(t, NewFileSource(bad, store).Load(), ErrLoadRules)

	invalid := filepath.Join(dir, "invalid.json")
	writeRulesFile(t, invalid, `{"rules": [{"id": "x", "request": {}}]}`)
	err = NewFileSource(invalid, store).Load()
	require.ErrorIs(t, err, ErrLoadRules)
	require.ErrorIs(t, err, api.ErrInvalidRule)
}

func TestFileSource_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	writeRulesFile(t, path, usersDoc)

	store := NewMemoryStore(nil)
	changed := make(chan api.Message, 8)
	store.Subscribe(func(m api.Message) { changed <- m })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- NewFileSource(path, store, WithDebounce(10*time.Millisecond)).Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})

	select {
	case m := <-changed:
		assert.Equal(t, api.KindRulesUpdated, m.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("initial load did not notify")
	}

	// Atomic replace through a rename, the way editors save.
	require.NoError(t, WriteRuleSet(path, api.RuleSet{Enabled: boolPtr(false)}))

	require.Eventually(t, func() bool {
		enabled, _ := store.Enabled(context.Background())
		rules, _ := store.List(context.Background())
		return !enabled && len(rules) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// A broken write keeps the previous rules.
	writeRulesFile(t, path, `{"rules": [`)
	time.Sleep(100 * time.Millisecond)
	enabled, err := store.Enabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestWriteRuleSet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	set := api.RuleSet{Enabled: boolPtr(true), Rules: []api.Rule{usersRule()}}
	require.NoError(t, WriteRuleSet(path, set))

	got, err := ReadRuleSet(path)
	require.NoError(t, err)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, usersRule().Response, got.Rules[0].Response)
	assert.True(t, got.IsEnabled())
}

func boolPtr(b bool) *bool { return &b }
