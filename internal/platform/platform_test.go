package platform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		goos    string
		want    Family
		wantErr bool
	}{
		{"windows", FamilyWindows, false},
		{"linux", FamilyPOSIX, false},
		{"darwin", FamilyPOSIX, false},
		{"plan9", "", true},
		{"js", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			got, err := FamilyOf(tt.goos)
			if tt.wantErr {
				var unsupported *UnsupportedError
				require.ErrorAs(t, err, &unsupported)
				assert.Equal(t, tt.goos, unsupported.GOOS)
				assert.Contains(t, err.Error(), "unsupported operating system")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayout(t *testing.T) {
	t.Parallel()
	venv := filepath.Join("root", "venv")

	t.Run("posix", func(t *testing.T) {
		l, err := NewLayout("linux", venv)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(venv, "bin", "python"), l.Interpreter())
		assert.Equal(t, filepath.Join(venv, "bin", "activate"), l.ActivateScript())
		assert.Equal(t, []string{
			filepath.Join(venv, "pyvenv.cfg"),
			filepath.Join(venv, "bin", "python"),
		}, l.Markers())
	})

	t.Run("windows", func(t *testing.T) {
		l, err := NewLayout("windows", venv)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(venv, "Scripts", "python.exe"), l.Interpreter())
		assert.Equal(t, filepath.Join(venv, "Scripts", "activate.bat"), l.ActivateScript())
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewLayout("aix", venv)
		require.Error(t, err)
	})
}
