package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/helpdesk/asyncx"
	"github.com/mohans/helpdesk/internal/helpdesk"
)

func writeConfig(t *testing.T, redisAddr, results string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helpdesk.yaml")
	body := fmt.Sprintf(`redis:
  url: redis://%s/0
queue:
  name: helpdesk
  concurrency: 2
results:
  backend: %s
  dsn: file:%s?_pragma=busy_timeout(5000)
stores:
  backend: redis
log:
  level: error
`, redisAddr, results, filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildCLI_Commands(t *testing.T) {
	root := BuildCLI()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "worker", "submit", "status", "queues"}, names)

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
	assert.Equal(t, "configs/helpdesk.yaml", flag.DefValue)
}

func TestSubmitAndStatus(t *testing.T) {
	for _, results := range []string{"redis", "sqlite"} {
		t.Run(results, func(t *testing.T) {
			s := miniredis.RunT(t)
			cfgPath := writeConfig(t, s.Addr(), results)

			rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
			defer rdb.Close()
			ticket := helpdesk.NewTicket("Printer jam", "tray 2")
			require.NoError(t, helpdesk.NewRedisStore(rdb, "").Create(context.Background(), ticket))

			out, err := execute(t, "-c", cfgPath, "submit", "summarize_conversation", ticket.ID)
			require.NoError(t, err, out)
			taskID := strings.TrimSpace(out)
			require.NotEmpty(t, taskID)

			out, err = execute(t, "-c", cfgPath, "status", taskID)
			require.NoError(t, err, out)
			var st asyncx.TaskStatus
			require.NoError(t, json.Unmarshal([]byte(out), &st))
			assert.Equal(t, taskID, st.TaskID)
			assert.Equal(t, asyncx.StatusPending, st.Status)
			assert.Nil(t, st.Result)
		})
	}
}

func TestSubmit_Errors(t *testing.T) {
	s := miniredis.RunT(t)
	cfgPath := writeConfig(t, s.Addr(), "redis")

	_, err := execute(t, "-c", cfgPath, "submit", "translate", "ticket-1")
	assert.EqualError(t, err, `unknown job "translate"`)

	_, err = execute(t, "-c", cfgPath, "submit", "generate_reply", "ghost")
	assert.Error(t, err)

	_, err = execute(t, "-c", cfgPath, "status", "never-issued")
	assert.ErrorIs(t, err, asyncx.ErrUnknownTask)

	_, err = execute(t, "-c", cfgPath, "submit", "generate_reply")
	assert.Error(t, err)
}

func TestLoad_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("results:\n  backend: mongo\n"), 0o600))
	_, err := execute(t, "-c", path, "status", "x")
	assert.ErrorContains(t, err, "failed to load config")
}
