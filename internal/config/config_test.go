package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Unit_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
api_key: secret
page_size: 50
start_date: "2023-01-01T00:00:00Z"
end_date: "2023-02-01"
streams: [survey_response, engagement]
concurrency: 2
timeout: 10s
state:
  backend: file
  path: /tmp/state.json
`)
	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "https://api.aptrinsic.com/v1", cfg.APIURL)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, []string{"survey_response", "engagement"}, cfg.Streams)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, "singer", cfg.Sink.Kind)
}

func TestLoad_Unit_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "api_key: from-file\npage_size: 50\n")
	t.Setenv("GAINSIGHTPX_API_KEY", "from-env")
	t.Setenv("GAINSIGHTPX_PAGE_SIZE", "75")
	t.Setenv("GAINSIGHTPX_STREAMS", "users,accounts")
	t.Setenv("GAINSIGHTPX_CONCURRENCY", "not-a-number")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)
	assert.Equal(t, 75, cfg.PageSize)
	assert.Equal(t, []string{"users", "accounts"}, cfg.Streams)
	assert.Equal(t, 1, cfg.Concurrency)
}

func TestLoad_Unit_EnvOnly(t *testing.T) {
	t.Setenv("GAINSIGHTPX_API_KEY", "k")
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.APIKey)
}

func TestLoad_Unit_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_Unit_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "api_key: [unclosed\n")
	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_Unit_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing api key", func(c *Config) { c.APIKey = "" }, "api_key"},
		{"bad url", func(c *Config) { c.APIURL = "not a url" }, "api_url"},
		{"negative page size", func(c *Config) { c.PageSize = -1 }, "page_size"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"unknown state backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"file backend without path", func(c *Config) { c.State.Backend = "file" }, "state.path"},
		{"postgres without dsn", func(c *Config) { c.State.Backend = "postgres" }, "state.dsn"},
		{"object sink without bucket", func(c *Config) { c.Sink.Kind = "object" }, "sink.bucket"},
		{"bad start date", func(c *Config) { c.StartDate = "yesterday" }, "start_date"},
		{"end before start", func(c *Config) {
			c.StartDate = "2023-02-01"
			c.EndDate = "2023-01-01"
		}, "end_date"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.APIKey = "k"
			tc.mutate(cfg)

			err := cfg.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
			assert.NotEmpty(t, verr.Message)
		})
	}
}

func TestValidate_Unit_DefaultsWithKeyPass(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "k"
	cfg.MetricsAddr = ":9102"
	assert.NoError(t, cfg.Validate())
}

func TestStreamConfig_Unit_Dates(t *testing.T) {
	cfg := Default()
	cfg.PageSize = 25
	cfg.StartDate = "2023-01-01"
	cfg.EndDate = "2023-02-01T00:00:00Z"

	sc, err := cfg.StreamConfig()
	require.NoError(t, err)
	assert.Equal(t, 25, sc.PageSize)
	assert.Equal(t, int64(1672531200000), sc.StartDate.UnixMilli())
	assert.Equal(t, int64(1675209600000), sc.EndDate.UnixMilli())
	assert.NotNil(t, sc.Params)

	cfg.StartDate = ""
	sc, err = cfg.StreamConfig()
	require.NoError(t, err)
	assert.True(t, sc.StartDate.IsZero())
}

func TestStreamConfig_Unit_BareEndDateCoversWholeDay(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "secret"
	cfg.StartDate = "2023-02-01"
	cfg.EndDate = "2023-02-01"
	require.NoError(t, cfg.Validate())

	sc, err := cfg.StreamConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(1675209600000), sc.StartDate.UnixMilli())
	assert.Equal(t, int64(1675295999999), sc.EndDate.UnixMilli())

	cfg.EndDate = "2023-02-01T00:00:00"
	sc, err = cfg.StreamConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(1675209600000), sc.EndDate.UnixMilli())
}
