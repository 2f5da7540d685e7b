package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailerrors "github.com/hotovec/mails/internal/errors"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name            string
		setup           func(v *viper.Viper)
		expectError     bool
		expectedProject string
	}{
		{
			name:            "defaults",
			setup:           func(v *viper.Viper) {},
			expectedProject: DefaultProject,
		},
		{
			name: "explicit project",
			setup: func(v *viper.Viper) {
				v.Set("project", "newsletter")
			},
			expectedProject: "newsletter",
		},
		{
			name: "project traversal rejected",
			setup: func(v *viper.Viper) {
				v.Set("project", "../etc")
			},
			expectError: true,
		},
		{
			name: "port out of range",
			setup: func(v *viper.Viper) {
				v.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "invalid port type",
			setup: func(v *viper.Viper) {
				v.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "bundle with slash rejected",
			setup: func(v *viper.Viper) {
				v.Set("build.bundle", "a/b")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			config, err := loadFrom(v)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, config)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedProject, config.Project)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	config, err := loadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "projects", config.Paths.Projects)
	assert.Equal(t, "dist", config.Paths.Dist)
	assert.Equal(t, []string{"node_modules/foundation-emails/scss"}, config.Paths.Include)
	assert.Equal(t, 4, config.Build.Workers)
	assert.Equal(t, "default", config.Build.DefaultLayout)
	assert.Equal(t, "app.scss", config.Build.Stylesheet)
	assert.Equal(t, "<!-- <style> -->", config.Build.Placeholder)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 3000, config.Server.Port)
	assert.Equal(t, 300*time.Millisecond, config.Watch.Debounce)
	assert.Equal(t, "config.json", config.Credentials.Path)
	assert.Equal(t, "css/app.css", config.StylesheetHref())
	assert.False(t, config.Production)
}

func TestLayout(t *testing.T) {
	layout := NewLayout("projects", "dist", "spring")

	assert.Equal(t, filepath.Join("projects", "spring"), layout.Src)
	assert.Equal(t, filepath.Join("dist", "spring"), layout.Dst)
	assert.Equal(t, filepath.Join("projects", "spring", "pages"), layout.PagesDir())
	assert.Equal(t, filepath.Join("projects", "spring", "assets", "scss"), layout.StylesDir())
	assert.Equal(t, filepath.Join("dist", "spring", "assets", "img"), layout.DstImagesDir())
	assert.Equal(t, filepath.Join("dist", "spring", "css"), layout.DstCSSDir())
}

func TestValidateProjectName(t *testing.T) {
	assert.NoError(t, ValidateProjectName("default"))
	assert.NoError(t, ValidateProjectName("spring-2024"))
	assert.Error(t, ValidateProjectName(""))
	assert.Error(t, ValidateProjectName(".."))
	assert.Error(t, ValidateProjectName("a/b"))
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is a config error", func(t *testing.T) {
		_, err := LoadCredentials(filepath.Join(dir, "nope.json"))
		require.Error(t, err)
		assert.True(t, mailerrors.IsConfig(err))
	})

	t.Run("malformed file is a config error", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := LoadCredentials(path)
		require.Error(t, err)
		assert.True(t, mailerrors.IsConfig(err))
	})

	t.Run("sections are optional", func(t *testing.T) {
		path := filepath.Join(dir, "good.json")
		body := `{"aws":{"key":"k","secret":"s","region":"eu-west-1","bucket":"b","url":"https://cdn.example.com/img"},
"mail":{"to":["qa@example.com"],"from":"build@example.com","smtp":{"host":"localhost","port":25}}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		creds, err := LoadCredentials(path)
		require.NoError(t, err)
		assert.Nil(t, creds.Litmus)
		assert.Equal(t, "https://cdn.example.com/img", creds.ImageBaseURL())
		assert.Equal(t, []string{"qa@example.com"}, creds.Mail.To)
	})

	t.Run("image url must be absolute http", func(t *testing.T) {
		for _, u := range []string{"cdn.example.com/img", "ftp://cdn.example.com", `https://cdn.example.com/"x`, "https:///img"} {
			path := filepath.Join(dir, "url.json")
			body := `{"aws":{"bucket":"b","url":` + strconv.Quote(u) + `}}`
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := LoadCredentials(path)
			require.Error(t, err, u)
			assert.True(t, mailerrors.IsConfig(err), u)
		}
	})

	var nilCreds *Credentials
	assert.Equal(t, "", nilCreds.ImageBaseURL())
}
