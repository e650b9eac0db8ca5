package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parameters.ini")
	contents := "# image size\n[DEFAULT]\nheight = 128\nwidth = 96\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, p.Height)
	assert.Equal(t, 96, p.Width)
	assert.Equal(t, "128x96", p.String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	assert.Error(t, err)
}

func TestParseINIForms(t *testing.T) {
	cases := map[string]string{
		"semicolon comments": "; written by the export script\n[DEFAULT]\n; rows\nheight = 64\nwidth = 32\n",
		"colon separators":   "[DEFAULT]\nheight: 64\nwidth:32\n",
		"upper case keys":    "[DEFAULT]\nHEIGHT = 64\nWidth = 32\n",
		"other sections": "[DEFAULT]\nheight = 64\nwidth = 32\n\n" +
			"[train]\nname = unet\noptimizer = adam\nlearning_rate = 1e-3\n",
		"blank lines and indentation": "\n\n[DEFAULT]\n  height = 64\n\nwidth = 32\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := Parse([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, Parameters{Height: 64, Width: 32}, *p)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	cases := map[string]string{
		"missing width":      "[DEFAULT]\nheight = 10\n",
		"only other section": "[train]\nheight = 10\nwidth = 10\n",
		"zero width":         "[DEFAULT]\nheight = 10\nwidth = 0\n",
		"not a number":       "[DEFAULT]\nheight = ten\nwidth = 10\n",
		"garbage":            "[DEFAULT\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}
