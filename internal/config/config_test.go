package config

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "https://nvd.nist.gov/feeds/json/cve/1.1/", cfg.URL)
	require.Len(t, cfg.Feeds, 22)
	assert.Equal(t, "2002", cfg.Feeds[0])
	assert.Equal(t, "2021", cfg.Feeds[19])
	assert.Equal(t, []string{"recent", "modified"}, cfg.Feeds[20:])
	assert.True(t, cfg.ShowProgress)
	assert.False(t, cfg.ForceUpdate)
	assert.Equal(t, "@hourly", cfg.Daemon.Schedule)
	require.NoError(t, cfg.Validate())
}

func TestDefaultFeeds_HistoricalBeforeRolling(t *testing.T) {
	feeds := DefaultFeeds()
	for i, f := range feeds[:20] {
		year, err := strconv.Atoi(f)
		require.NoError(t, err)
		assert.Equal(t, 2002+i, year)
	}
}

func TestDefaultDBPath(t *testing.T) {
	t.Run("xdg cache home", func(t *testing.T) {
		t.Setenv("XDG_CACHE_HOME", "/tmp/xdg")
		assert.Equal(t, filepath.Join("/tmp/xdg", "nvd", "nvd.sqlite3"), DefaultDBPath())
	})

	t.Run("home cache", func(t *testing.T) {
		t.Setenv("XDG_CACHE_HOME", "")
		t.Setenv("HOME", "/home/tester")
		assert.Equal(t, filepath.Join("/home/tester", ".cache", "nvd", "nvd.sqlite3"), DefaultDBPath())
	})
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.URL, cfg.URL)
	assert.Equal(t, def.Feeds, cfg.Feeds)
	assert.Equal(t, 5*time.Minute, cfg.HTTP.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Daemon.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(NewViper(filepath.Join("testdata", "nvd.yaml")))
	require.NoError(t, err)

	assert.Equal(t, "https://mirror.example.com/nvd/", cfg.URL)
	assert.Equal(t, []string{"2020", "2021", "recent"}, cfg.Feeds)
	assert.Equal(t, "/var/cache/nvd/test.sqlite3", cfg.DB)
	assert.False(t, cfg.ShowProgress)
	assert.True(t, cfg.ForceUpdate)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 45*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "*/30 * * * *", cfg.Daemon.Schedule)
	assert.Equal(t, "/srv/nvd", cfg.Daemon.MirrorDir)
	assert.Equal(t, ":9464", cfg.Daemon.MetricsAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Daemon.Debounce)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NVD_FEEDS", "2021,recent")
	t.Setenv("NVD_DB", "/tmp/env.sqlite3")
	t.Setenv("NVD_LOG_LEVEL", "warn")
	t.Setenv("NVD_HTTP_TIMEOUT", "10s")

	cfg, err := Load(NewViper(filepath.Join("testdata", "nvd.yaml")))
	require.NoError(t, err)

	assert.Equal(t, []string{"2021", "recent"}, cfg.Feeds)
	assert.Equal(t, "/tmp/env.sqlite3", cfg.DB)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(NewViper(filepath.Join("testdata", "invalid.yaml")))
	require.Error(t, err)

	var ve ValidationErrors
	require.ErrorAs(t, err, &ve)

	tags := map[string]string{}
	for _, fe := range ve {
		tags[fe.Field] = fe.Tag
	}
	assert.Equal(t, "url", tags["Config.URL"])
	assert.Equal(t, "min", tags["Config.Feeds"])
	assert.Equal(t, "oneof", tags["Config.Log.Level"])
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty db":         func(c *Config) { c.DB = "" },
		"empty feed":       func(c *Config) { c.Feeds = []string{"2021", ""} },
		"duplicate feed":   func(c *Config) { c.Feeds = []string{"2021", "recent", "2021"} },
		"bad schedule":     func(c *Config) { c.Daemon.Schedule = "every so often" },
		"missing schedule": func(c *Config) { c.Daemon.Schedule = "" },
		"negative timeout": func(c *Config) { c.HTTP.Timeout = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_DuplicateFeedTag(t *testing.T) {
	cfg := Default()
	cfg.Feeds = []string{"recent", "recent"}

	var ve ValidationErrors
	require.ErrorAs(t, cfg.Validate(), &ve)
	require.Len(t, ve, 1)
	assert.Equal(t, "Config.Feeds", ve[0].Field)
	assert.Equal(t, "unique", ve[0].Tag)
}

func TestString(t *testing.T) {
	cfg := Default()
	cfg.Feeds = []string{"2021", "recent"}
	cfg.DB = "/tmp/nvd.sqlite3"

	want := "Url: https://nvd.nist.gov/feeds/json/cve/1.1/\n" +
		"Feeds: 2021,recent\n" +
		"DB Path: /tmp/nvd.sqlite3\n" +
		"Progress Bar: true\n"
	assert.Equal(t, want, cfg.String())
}

func TestSyncConfig(t *testing.T) {
	cfg := Default()
	cfg.Feeds = []string{"2021", "recent"}
	cfg.ForceUpdate = true

	sc := cfg.SyncConfig()
	assert.Equal(t, []string{"2021", "recent"}, sc.Partitions)
	assert.True(t, sc.ForceUpdate)

	sc.Partitions[0] = "1999"
	assert.Equal(t, "2021", cfg.Feeds[0])
}

func TestYAML(t *testing.T) {
	cfg := Default()
	cfg.DB = "/tmp/nvd.sqlite3"

	out, err := cfg.YAML()
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, "url: https://nvd.nist.gov/feeds/json/cve/1.1/")
	assert.Contains(t, s, "db: /tmp/nvd.sqlite3")
	assert.Contains(t, s, "- recent")
	assert.Contains(t, s, "@hourly")
}
